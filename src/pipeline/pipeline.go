// Package pipeline sequences one build's report run: preconditions, build fetch,
// analysis wait, issue reconciliation, duplication resolution, assembly and publish.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"buildreport-agent/src/broker"
	"buildreport-agent/src/contracts"
	"buildreport-agent/src/faults"
	"buildreport-agent/src/logger"
	"buildreport-agent/src/report"
	"buildreport-agent/src/store"
	"buildreport-agent/src/timefmt"
)

// BuildSource fetches a build and its changeset from the CI server.
type BuildSource interface {
	GetBuild(ctx context.Context, projectPath string) (*contracts.BuildEvent, error)
}

// IssueSource classifies analysis issues against a reference time.
type IssueSource interface {
	FetchNewIssues(ctx context.Context, ref time.Time) ([]contracts.AnalysisIssue, error)
	FetchFixedIssues(ctx context.Context, ref time.Time) ([]contracts.AnalysisIssue, error)
}

// DuplicationSource resolves duplication sets for duplicated-code issues.
type DuplicationSource interface {
	Resolve(ctx context.Context, issues []contracts.AnalysisIssue) []contracts.DuplicationSet
}

// ReportSink delivers an assembled report.
type ReportSink interface {
	Publish(ctx context.Context, r *contracts.Report) error
}

// Target identifies the build being reported and the integrations it uses.
type Target struct {
	ProjectPath string // e.g. "job/demo/42/"
	BuildKey    string // ledger and event key, e.g. "job/demo#42"
	SCM         string // version-control integration: git or svn
	ProjectKey  string // analysis project
}

// Deps are the collaborators of an Orchestrator. Events may be nil.
type Deps struct {
	Builds       BuildSource
	Issues       IssueSource
	Duplications DuplicationSource
	Publisher    ReportSink
	Waiter       Waiter
	Ledger       store.Store
	Events       broker.Broker
	Logger       logger.Logger
}

// Result is the outcome of a run.
type Result struct {
	RunID  string
	State  string
	Reason string
	Report *contracts.Report
}

// Orchestrator runs the report pipeline for one target.
type Orchestrator struct {
	target Target
	deps   Deps
	log    logger.Logger
	now    func() time.Time
	newID  func() string
}

// New creates an orchestrator.
func New(target Target, deps Deps) *Orchestrator {
	return &Orchestrator{
		target: target,
		deps:   deps,
		log:    logOrSilent(deps.Logger),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Target returns the build this orchestrator reports on.
func (o *Orchestrator) Target() Target {
	return o.target
}

// run carries the state of one execution.
type run struct {
	id      string
	state   string
	preview bool // no ledger writes, no events
}

// Run executes every stage and publishes the report. On failure the returned
// Result is in state Failed and err carries the cause; nothing is published.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	r := &run{id: o.newID(), state: contracts.StateInit}

	if o.deps.Ledger != nil {
		if _, err := o.deps.Ledger.BeginRun(ctx, r.id, o.target.BuildKey); err != nil {
			o.log.Debug("[Pipeline] %s: %v", o.target.BuildKey, err)
			o.emit(ctx, r.id, contracts.StateFailed, err.Error())
			return &Result{RunID: r.id, State: contracts.StateFailed, Reason: err.Error()}, err
		}
	}
	o.emit(ctx, r.id, contracts.StateInit, "")

	rep, err := o.assemble(ctx, r)
	if err == nil {
		err = o.claimPublish(ctx, r)
	}
	if err == nil {
		err = o.deps.Publisher.Publish(ctx, rep)
	}
	if err != nil {
		return o.fail(ctx, r, err), err
	}

	o.transition(ctx, r, contracts.StateDone)
	if o.deps.Events != nil {
		if perr := broker.PublishJSON(ctx, o.deps.Events, contracts.TopicReports, o.target.BuildKey, rep); perr != nil {
			o.log.Warn("[Pipeline] Failed to emit report for %s: %v", o.target.BuildKey, perr)
		}
	}
	o.log.Info("[Pipeline] Published report for %s (%d issues, %d duplications)",
		o.target.BuildKey, len(rep.Issues), len(rep.Duplications))

	return &Result{RunID: r.id, State: r.state, Report: rep}, nil
}

// Preview runs every stage up to assembly and returns the report without
// publishing it or touching the ledger.
func (o *Orchestrator) Preview(ctx context.Context) (*contracts.Report, error) {
	r := &run{id: o.newID(), state: contracts.StateInit, preview: true}
	return o.assemble(ctx, r)
}

func (o *Orchestrator) assemble(ctx context.Context, r *run) (*contracts.Report, error) {
	o.transition(ctx, r, contracts.StateValidatingPreconditions)
	kind, err := o.validatePreconditions()
	if err != nil {
		return nil, err
	}

	o.transition(ctx, r, contracts.StateFetchingBuildEvent)
	build, err := o.deps.Builds.GetBuild(ctx, o.target.ProjectPath)
	if err != nil {
		return nil, err
	}
	if len(build.Commits) == 0 && !build.FirstBuild() {
		return nil, fmt.Errorf("build #%d has no commits: %w", build.Number, faults.ErrNoChangesetFound)
	}
	if build.ChangesetKind != timefmt.ChangesetNone && build.ChangesetKind != kind {
		o.log.Warn("[Pipeline] Build #%d reports a %s changeset, configured integration is %s", build.Number, build.ChangesetKind, kind)
	}

	o.transition(ctx, r, contracts.StateAwaitingAnalysis)
	ref := build.StartedAt
	if o.deps.Waiter != nil {
		taskStart, err := o.deps.Waiter.Wait(ctx, o.target.ProjectKey)
		if err != nil {
			return nil, err
		}
		if taskStart != nil {
			ref = *taskStart
		}
	}
	o.log.Debug("[Pipeline] Reference time %s", timefmt.Format(ref, timefmt.AnalysisFormat))

	o.transition(ctx, r, contracts.StateFetchingIssues)
	newIssues, err := o.deps.Issues.FetchNewIssues(ctx, ref)
	if err != nil {
		return nil, err
	}
	fixedIssues, err := o.deps.Issues.FetchFixedIssues(ctx, ref)
	if err != nil {
		return nil, err
	}

	o.transition(ctx, r, contracts.StateResolvingDuplications)
	sets := o.deps.Duplications.Resolve(ctx, newIssues)

	o.transition(ctx, r, contracts.StateAssembling)
	return report.Assemble(build, newIssues, fixedIssues, sets, o.now())
}

func (o *Orchestrator) validatePreconditions() (timefmt.ChangesetKind, error) {
	kind, err := timefmt.ParseChangesetKind(o.target.SCM)
	if err != nil {
		return "", err
	}
	if kind == timefmt.ChangesetNone {
		return "", fmt.Errorf("no supported version-control integration: %w", faults.ErrIntegrationNotFound)
	}
	if o.target.ProjectKey == "" || o.deps.Issues == nil || o.deps.Duplications == nil {
		return "", fmt.Errorf("analysis integration not configured: %w", faults.ErrIntegrationNotFound)
	}
	return kind, nil
}

func (o *Orchestrator) transition(ctx context.Context, r *run, state string) {
	r.state = state
	o.log.Info("[Pipeline] %s -> %s", o.target.BuildKey, state)
	if r.preview {
		return
	}
	o.record(ctx, r.id, state, "")
	o.emit(ctx, r.id, state, "")
}

// claimPublish moves the run to Publishing. With a ledger the move is a claim on
// the build: a run superseded by a newer one fails here instead of publishing.
func (o *Orchestrator) claimPublish(ctx context.Context, r *run) error {
	if o.deps.Ledger == nil {
		o.transition(ctx, r, contracts.StatePublishing)
		return nil
	}
	if err := o.deps.Ledger.ClaimPublish(ctx, r.id); err != nil {
		return err
	}
	r.state = contracts.StatePublishing
	o.log.Info("[Pipeline] %s -> %s", o.target.BuildKey, contracts.StatePublishing)
	o.emit(ctx, r.id, contracts.StatePublishing, "")
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, r *run, err error) *Result {
	reason := err.Error()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// the run context is gone; record the outcome regardless
		ctx = context.WithoutCancel(ctx)
	}
	// the CLI prints the operator-facing message
	o.log.Debug("[Pipeline] %s failed in %s: %v", o.target.BuildKey, r.state, err)

	failedIn := r.state
	r.state = contracts.StateFailed
	o.record(ctx, r.id, contracts.StateFailed, reason)
	o.emit(ctx, r.id, contracts.StateFailed, reason)

	return &Result{RunID: r.id, State: contracts.StateFailed, Reason: failedIn + ": " + reason}
}

func (o *Orchestrator) record(ctx context.Context, runID, state, reason string) {
	if o.deps.Ledger == nil {
		return
	}
	if err := o.deps.Ledger.UpdateRun(ctx, runID, state, reason); err != nil && !errors.Is(err, store.ErrRunNotFound) {
		o.log.Warn("[Pipeline] Failed to record %s for %s: %v", state, o.target.BuildKey, err)
	}
}

func (o *Orchestrator) emit(ctx context.Context, runID, state, reason string) {
	if o.deps.Events == nil {
		return
	}
	event := contracts.RunEvent{
		RunID:     runID,
		BuildKey:  o.target.BuildKey,
		State:     state,
		Reason:    reason,
		Timestamp: o.now().UTC().Format(time.RFC3339),
	}
	if err := broker.PublishJSON(ctx, o.deps.Events, contracts.TopicRuns, o.target.BuildKey, event); err != nil {
		o.log.Warn("[Pipeline] Failed to emit %s event for %s: %v", state, o.target.BuildKey, err)
	}
}
