// Package contracts defines the data exchanged between the upstream clients, the
// reconciliation stages, the rule engine and the event bus.
package contracts

import (
	"time"

	"buildreport-agent/src/timefmt"
)

// BuildEvent is one CI run's metadata and changeset.
type BuildEvent struct {
	ID            string
	Number        int
	Result        string // SUCCESS, FAILURE, UNSTABLE, ABORTED, ...
	StartedAt     time.Time
	ChangesetKind timefmt.ChangesetKind
	Commits       []Commit
	// Full names of the users the CI server blames for this build, in its order.
	Culprits []string
}

// FirstBuild reports whether this is the project's first build, the only build
// allowed to carry an empty changeset.
func (b *BuildEvent) FirstBuild() bool {
	return b.Number <= 1
}

// Commit is one changeset entry of a build.
type Commit struct {
	CommitID    string
	Message     string
	AuthorName  string
	AuthorURL   string
	CommittedAt time.Time
}

// TextRange locates an issue inside its component.
type TextRange struct {
	StartLine   int `json:"startLine"`
	EndLine     int `json:"endLine"`
	StartOffset int `json:"startOffset"`
	EndOffset   int `json:"endOffset"`
}

// AnalysisIssue is one static-analysis finding.
type AnalysisIssue struct {
	Key             string
	RuleID          string
	Severity        string
	ComponentRef    string
	Status          string
	Resolution      string
	Message         string
	RemainingEffort string // "1h30m", "45m", "2h"
	CreatedAt       time.Time
	UpdatedAt       *time.Time
	ClosedAt        *time.Time
	TextRange       *TextRange
}

// DuplicationSet is the duplications payload for one queried component.
// File refs are scoped to the set and must never be compared across sets.
type DuplicationSet struct {
	ComponentRef string
	Groups       []DuplicationGroup
	Files        map[string]FileDescriptor
}

// DuplicationGroup is a set of blocks that duplicate each other.
type DuplicationGroup struct {
	Blocks []Block
}

// Block is one duplicated region; FileRef resolves through the owning set's Files.
type Block struct {
	StartLine int
	BlockSize int
	FileRef   string
}

// FileDescriptor describes a file referenced by duplication blocks.
type FileDescriptor struct {
	Ref         string
	Key         string
	UUID        string
	DisplayName string
}

// Report is the normalized artifact sent to the rule engine once per build.
// Field names follow the rule engine's build endpoint.
type Report struct {
	Result       string              `json:"result"`
	Timestamp    int64               `json:"timestamp"`
	Author       string              `json:"author"`
	Items        []ReportCommit      `json:"items"`
	Issues       []ReportIssue       `json:"issues"`
	Duplications []ReportDuplication `json:"duplications"`
}

// ReportCommit is a commit as reported downstream.
type ReportCommit struct {
	CommitID  string `json:"commitId"`
	CommitMsg string `json:"commitMsg"`
	Timestamp int64  `json:"timestamp"`
}

// ReportIssue is a new or fixed issue as reported downstream. UpdateDate and
// CloseDate are only present for fixed issues.
type ReportIssue struct {
	Key          string `json:"key"`
	Severity     string `json:"severity"`
	Component    string `json:"component"`
	StartLine    int    `json:"startLine"`
	EndLine      int    `json:"endLine"`
	Status       string `json:"status"`
	Resolution   string `json:"resolution,omitempty"`
	Message      string `json:"message"`
	Debt         int    `json:"debt"`
	CreationDate int64  `json:"creationDate"`
	UpdateDate   *int64 `json:"updateDate,omitempty"`
	CloseDate    *int64 `json:"closeDate,omitempty"`
}

// ReportDuplication is one duplication set flattened to its blocks.
type ReportDuplication struct {
	Files []DuplicationFile `json:"files"`
}

// DuplicationFile is one duplicated block resolved to its file.
type DuplicationFile struct {
	File      string `json:"file"`
	BeginLine int    `json:"beginLine"`
	Size      int    `json:"size"`
}

// RunEvent is emitted on every orchestrator state transition.
// Published to: buildreport.runs
// Key: {build_key}
type RunEvent struct {
	RunID     string `json:"run_id"`
	BuildKey  string `json:"build_key"`
	State     string `json:"state"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Run states, in pipeline order. StateFailed is reachable from any non-terminal state.
const (
	StateInit                    = "Init"
	StateValidatingPreconditions = "ValidatingPreconditions"
	StateFetchingBuildEvent      = "FetchingBuildEvent"
	StateAwaitingAnalysis        = "AwaitingAnalysis"
	StateFetchingIssues          = "FetchingIssues"
	StateResolvingDuplications   = "ResolvingDuplications"
	StateAssembling              = "Assembling"
	StatePublishing              = "Publishing"
	StateDone                    = "Done"
	StateFailed                  = "Failed"
)

// RunRecord is the ledger entry for one build.
type RunRecord struct {
	RunID     string
	BuildKey  string
	State     string
	Reason    string
	StartedAt time.Time
	UpdatedAt time.Time
}

// Topic names used on the event bus
const (
	// TopicRuns carries RunEvent messages
	TopicRuns = "buildreport.runs"

	// TopicReports carries every report accepted by the rule engine
	TopicReports = "buildreport.reports"
)
