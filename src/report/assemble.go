// Package report assembles the normalized build report sent to the rule engine.
package report

import (
	"encoding/json"
	"fmt"
	"time"

	"buildreport-agent/src/contracts"
	"buildreport-agent/src/faults"
	"buildreport-agent/src/reconcile"
	"buildreport-agent/src/timefmt"
)

// Assemble merges a build, its new and fixed issues and the resolved duplication
// sets into a report. Output depends only on the arguments.
func Assemble(build *contracts.BuildEvent, newIssues, fixedIssues []contracts.AnalysisIssue, sets []contracts.DuplicationSet, generatedAt time.Time) (*contracts.Report, error) {
	r := &contracts.Report{
		Result:       build.Result,
		Timestamp:    timefmt.EpochMillis(generatedAt),
		Author:       authorOf(build),
		Items:        make([]contracts.ReportCommit, 0, len(build.Commits)),
		Issues:       make([]contracts.ReportIssue, 0, len(newIssues)+len(fixedIssues)),
		Duplications: make([]contracts.ReportDuplication, 0, len(sets)),
	}

	for _, c := range build.Commits {
		r.Items = append(r.Items, contracts.ReportCommit{
			CommitID:  c.CommitID,
			CommitMsg: c.Message,
			Timestamp: timefmt.EpochMillis(c.CommittedAt),
		})
	}

	for i := range newIssues {
		issue, err := convertIssue(&newIssues[i], false)
		if err != nil {
			return nil, err
		}
		r.Issues = append(r.Issues, issue)
	}
	for i := range fixedIssues {
		issue, err := convertIssue(&fixedIssues[i], true)
		if err != nil {
			return nil, err
		}
		r.Issues = append(r.Issues, issue)
	}

	for i := range sets {
		dup, err := flatten(&sets[i])
		if err != nil {
			return nil, err
		}
		r.Duplications = append(r.Duplications, dup)
	}

	return r, nil
}

// Marshal serializes a report to its wire format.
func Marshal(r *contracts.Report) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}
	return data, nil
}

// authorOf prefers the first culprit the CI server names, then the first committer.
func authorOf(build *contracts.BuildEvent) string {
	if len(build.Culprits) > 0 {
		return build.Culprits[0]
	}
	if len(build.Commits) > 0 {
		return build.Commits[0].AuthorName
	}
	return ""
}

func convertIssue(issue *contracts.AnalysisIssue, fixed bool) (contracts.ReportIssue, error) {
	debt, err := reconcile.ParseEffort(issue.RemainingEffort)
	if err != nil {
		return contracts.ReportIssue{}, fmt.Errorf("issue %s: %w", issue.Key, err)
	}

	out := contracts.ReportIssue{
		Key:          issue.Key,
		Severity:     issue.Severity,
		Component:    issue.ComponentRef,
		Status:       issue.Status,
		Resolution:   issue.Resolution,
		Message:      issue.Message,
		Debt:         debt,
		CreationDate: timefmt.EpochMillis(issue.CreatedAt),
	}
	if issue.TextRange != nil {
		out.StartLine = issue.TextRange.StartLine
		out.EndLine = issue.TextRange.EndLine
	}
	if fixed {
		out.UpdateDate = millisPtr(issue.UpdatedAt)
		out.CloseDate = millisPtr(issue.ClosedAt)
	}
	return out, nil
}

func flatten(set *contracts.DuplicationSet) (contracts.ReportDuplication, error) {
	dup := contracts.ReportDuplication{Files: []contracts.DuplicationFile{}}
	for _, group := range set.Groups {
		for _, block := range group.Blocks {
			file, ok := set.Files[block.FileRef]
			if !ok {
				return contracts.ReportDuplication{}, fmt.Errorf("block at line %d of %s references file %q: %w",
					block.StartLine, set.ComponentRef, block.FileRef, faults.ErrDanglingFileReference)
			}
			dup.Files = append(dup.Files, contracts.DuplicationFile{
				File:      file.DisplayName,
				BeginLine: block.StartLine,
				Size:      block.BlockSize,
			})
		}
	}
	return dup, nil
}

func millisPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ms := timefmt.EpochMillis(*t)
	return &ms
}
