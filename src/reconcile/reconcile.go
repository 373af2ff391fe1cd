// Package reconcile classifies analysis issues against a build's reference time.
package reconcile

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"time"

	"buildreport-agent/src/contracts"
	"buildreport-agent/src/faults"
	"buildreport-agent/src/sonar"
)

// IssueSearcher runs a paginated issue search.
type IssueSearcher interface {
	SearchIssues(ctx context.Context, q sonar.IssueQuery) ([]contracts.AnalysisIssue, error)
}

// Reconciler fetches the new and fixed issues of one project.
type Reconciler struct {
	searcher   IssueSearcher
	projectKey string
}

// New creates a reconciler for the project identified by projectKey.
func New(searcher IssueSearcher, projectKey string) *Reconciler {
	return &Reconciler{searcher: searcher, projectKey: projectKey}
}

// FetchNewIssues returns unresolved issues created at or after ref.
// The server enforces the boundary, so results are returned as-is.
func (r *Reconciler) FetchNewIssues(ctx context.Context, ref time.Time) ([]contracts.AnalysisIssue, error) {
	issues, err := r.searcher.SearchIssues(ctx, sonar.IssueQuery{
		ComponentKey: r.projectKey,
		Resolved:     false,
		CreatedAfter: &ref,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch new issues: %w", err)
	}
	return issues, nil
}

// FetchFixedIssues returns resolved issues closed strictly after ref.
func (r *Reconciler) FetchFixedIssues(ctx context.Context, ref time.Time) ([]contracts.AnalysisIssue, error) {
	issues, err := r.searcher.SearchIssues(ctx, sonar.IssueQuery{
		ComponentKey: r.projectKey,
		Resolved:     true,
		SortByUpdate: true,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch fixed issues: %w", err)
	}
	return ClosedAfter(issues, ref), nil
}

// ClosedAfter keeps the issues whose close time is strictly after ref, preserving
// order. Every issue is inspected: update order does not bound close order, so
// the scan never stops early. Issues without a close time are dropped.
func ClosedAfter(issues []contracts.AnalysisIssue, ref time.Time) []contracts.AnalysisIssue {
	fixed := make([]contracts.AnalysisIssue, 0, len(issues))
	for _, issue := range issues {
		if issue.ClosedAt != nil && issue.ClosedAt.After(ref) {
			fixed = append(fixed, issue)
		}
	}
	return fixed
}

// maxEffortMinutes bounds parsed effort to a 32-bit minute count.
const maxEffortMinutes = math.MaxInt32

var effortPattern = regexp.MustCompile(`^(?:(\d+)h)?(?:(\d+)m)?$`)

// ParseEffort converts a compact remaining-effort string ("1h30m", "45m", "2h")
// into whole minutes.
func ParseEffort(text string) (int, error) {
	m := effortPattern.FindStringSubmatch(text)
	if m == nil || (m[1] == "" && m[2] == "") {
		return 0, fmt.Errorf("effort %q: %w", text, faults.ErrMalformedEffort)
	}

	minutes := 0
	if m[1] != "" {
		hours, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, fmt.Errorf("effort %q: %w", text, faults.ErrMalformedEffort)
		}
		if hours > maxEffortMinutes/60 {
			return 0, fmt.Errorf("effort %q out of range: %w", text, faults.ErrMalformedEffort)
		}
		minutes += hours * 60
	}
	if m[2] != "" {
		mins, err := strconv.Atoi(m[2])
		if err != nil || mins > maxEffortMinutes-minutes {
			return 0, fmt.Errorf("effort %q: %w", text, faults.ErrMalformedEffort)
		}
		minutes += mins
	}
	return minutes, nil
}
