// Package store defines the run ledger that guards once-per-build publishing.
package store

import (
	"context"
	"errors"

	"buildreport-agent/src/contracts"
)

// ErrRunNotFound is returned when no ledger entry matches.
var ErrRunNotFound = errors.New("run not found")

// Store records one entry per build key.
type Store interface {
	// BeginRun claims buildKey for runID in state Init. A build whose previous run
	// is Publishing or Done is refused with faults.ErrAlreadyPublished; any other
	// previous run is superseded.
	BeginRun(ctx context.Context, runID, buildKey string) (*contracts.RunRecord, error)

	// ClaimPublish moves runID to Publishing if it still owns its build. A run that
	// was superseded, or whose build is already Publishing or Done, gets
	// faults.ErrAlreadyPublished and must not publish.
	ClaimPublish(ctx context.Context, runID string) error

	// UpdateRun moves runID to state, recording reason for failures.
	UpdateRun(ctx context.Context, runID, state, reason string) error

	// GetRun returns the ledger entry for buildKey.
	GetRun(ctx context.Context, buildKey string) (*contracts.RunRecord, error)

	// ListRuns returns up to limit entries, most recently updated first.
	ListRuns(ctx context.Context, limit int) ([]contracts.RunRecord, error)

	// Close closes the store connection
	Close() error
}

// publishing reports whether a run in state may have reached the rule engine.
func publishing(state string) bool {
	return state == contracts.StatePublishing || state == contracts.StateDone
}
