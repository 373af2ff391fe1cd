package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"buildreport-agent/src/contracts"
	"buildreport-agent/src/faults"
)

// MemoryStore is an in-memory implementation of Store.
// Entries live for the lifetime of the process.
type MemoryStore struct {
	mu     sync.RWMutex
	builds map[string]*contracts.RunRecord // buildKey -> record
	runs   map[string]string               // runID -> buildKey
	now    func() time.Time
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		builds: make(map[string]*contracts.RunRecord),
		runs:   make(map[string]string),
		now:    time.Now,
	}
}

// BeginRun claims buildKey for runID.
func (s *MemoryStore) BeginRun(ctx context.Context, runID, buildKey string) (*contracts.RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, exists := s.builds[buildKey]; exists {
		if publishing(prev.State) {
			return nil, fmt.Errorf("build %s (run %s, %s): %w", buildKey, prev.RunID, prev.State, faults.ErrAlreadyPublished)
		}
		delete(s.runs, prev.RunID)
	}

	now := s.now()
	record := &contracts.RunRecord{
		RunID:     runID,
		BuildKey:  buildKey,
		State:     contracts.StateInit,
		StartedAt: now,
		UpdatedAt: now,
	}
	s.builds[buildKey] = record
	s.runs[runID] = buildKey

	recordCopy := *record
	return &recordCopy, nil
}

// ClaimPublish moves runID to Publishing if it still owns its build.
func (s *MemoryStore) ClaimPublish(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	buildKey, exists := s.runs[runID]
	if !exists {
		return fmt.Errorf("run %s was superseded: %w", runID, faults.ErrAlreadyPublished)
	}
	record := s.builds[buildKey]
	if publishing(record.State) {
		return fmt.Errorf("build %s is %s: %w", buildKey, record.State, faults.ErrAlreadyPublished)
	}

	record.State = contracts.StatePublishing
	record.Reason = ""
	record.UpdatedAt = s.now()
	return nil
}

// UpdateRun moves runID to state.
func (s *MemoryStore) UpdateRun(ctx context.Context, runID, state, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	buildKey, exists := s.runs[runID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	record := s.builds[buildKey]
	record.State = state
	record.Reason = reason
	record.UpdatedAt = s.now()
	return nil
}

// GetRun returns the ledger entry for buildKey.
func (s *MemoryStore) GetRun(ctx context.Context, buildKey string) (*contracts.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, exists := s.builds[buildKey]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, buildKey)
	}

	recordCopy := *record
	return &recordCopy, nil
}

// ListRuns returns up to limit entries, most recently updated first.
func (s *MemoryStore) ListRuns(ctx context.Context, limit int) ([]contracts.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]contracts.RunRecord, 0, len(s.builds))
	for _, record := range s.builds {
		records = append(records, *record)
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].UpdatedAt.Equal(records[j].UpdatedAt) {
			return records[i].UpdatedAt.After(records[j].UpdatedAt)
		}
		return records[i].BuildKey < records[j].BuildKey
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}
