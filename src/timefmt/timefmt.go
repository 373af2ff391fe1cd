// Package timefmt converts between the timestamp encodings of the CI server and the
// analysis server and Go time values. All functions are pure and safe for concurrent use.
package timefmt

import (
	"fmt"
	"time"

	"buildreport-agent/src/faults"
)

// Encoding identifies an upstream timestamp encoding.
type Encoding int

const (
	// CIFormat is the CI server's git changeset encoding: "2006-01-02 15:04:05 -0700".
	CIFormat Encoding = iota
	// AnalysisFormat is the analysis server encoding: "2006-01-02T15:04:05-0700".
	AnalysisFormat
	// XSDDateTime is the ISO-8601 encoding used by svn changesets.
	XSDDateTime
)

const (
	ciLayout       = "2006-01-02 15:04:05 -0700"
	analysisLayout = "2006-01-02T15:04:05-0700"
)

func (f Encoding) String() string {
	switch f {
	case CIFormat:
		return "ci"
	case AnalysisFormat:
		return "analysis"
	case XSDDateTime:
		return "xsd:dateTime"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// ChangesetKind is the version-control flavour of a build's changeset.
type ChangesetKind string

const (
	ChangesetGit  ChangesetKind = "git"
	ChangesetSVN  ChangesetKind = "svn"
	ChangesetNone ChangesetKind = "none"
)

// ParseChangesetKind maps the CI server's changeSet.kind onto a ChangesetKind.
// An empty or null kind means the build carried no changeset.
func ParseChangesetKind(kind string) (ChangesetKind, error) {
	switch kind {
	case "git":
		return ChangesetGit, nil
	case "svn":
		return ChangesetSVN, nil
	case "", "none":
		return ChangesetNone, nil
	default:
		return "", fmt.Errorf("unsupported changeset kind %q: %w", kind, faults.ErrIntegrationNotFound)
	}
}

// CommitFormat returns the timestamp encoding used by commits of the given kind.
func CommitFormat(kind ChangesetKind) (Encoding, error) {
	switch kind {
	case ChangesetGit:
		return CIFormat, nil
	case ChangesetSVN:
		return XSDDateTime, nil
	default:
		return 0, fmt.Errorf("no commit timestamp format for changeset kind %q", kind)
	}
}

// Parse converts text in the given encoding into a time value. The text must match
// the encoding exactly; trailing fractions or garbage fail with ErrMalformedTimestamp.
func Parse(text string, f Encoding) (time.Time, error) {
	switch f {
	case CIFormat, AnalysisFormat:
		layout := layoutFor(f)
		t, err := time.Parse(layout, text)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse %s timestamp %q: %w", f, text, faults.ErrMalformedTimestamp)
		}
		// time.Parse tolerates fractional seconds the layout does not name
		if t.Format(layout) != text {
			return time.Time{}, fmt.Errorf("parse %s timestamp %q: %w", f, text, faults.ErrMalformedTimestamp)
		}
		return t, nil
	case XSDDateTime:
		t, err := time.Parse(time.RFC3339Nano, text)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse %s timestamp %q: %w", f, text, faults.ErrMalformedTimestamp)
		}
		return t, nil
	default:
		return time.Time{}, fmt.Errorf("parse %q: unknown %s: %w", text, f, faults.ErrMalformedTimestamp)
	}
}

// Format renders t in the given encoding.
func Format(t time.Time, f Encoding) string {
	switch f {
	case CIFormat, AnalysisFormat:
		return t.Format(layoutFor(f))
	default:
		return t.Format(time.RFC3339Nano)
	}
}

// ParseCommit parses a commit timestamp using the encoding of its changeset kind.
func ParseCommit(text string, kind ChangesetKind) (time.Time, error) {
	f, err := CommitFormat(kind)
	if err != nil {
		return time.Time{}, err
	}
	return Parse(text, f)
}

// EpochMillis returns t as milliseconds since the Unix epoch.
func EpochMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func layoutFor(f Encoding) string {
	if f == CIFormat {
		return ciLayout
	}
	return analysisLayout
}
