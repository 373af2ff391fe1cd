package duplication

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buildreport-agent/src/contracts"
	"buildreport-agent/src/logger"
)

type fakeFetcher struct {
	mu       sync.Mutex
	calls    []string
	failRefs map[string]bool
	delay    time.Duration

	inFlight    int32
	maxInFlight int32
}

func (f *fakeFetcher) Duplications(ctx context.Context, ref string) (*contracts.DuplicationSet, error) {
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		old := atomic.LoadInt32(&f.maxInFlight)
		if n <= old || atomic.CompareAndSwapInt32(&f.maxInFlight, old, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, ref)
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.failRefs[ref] {
		return nil, errors.New("connection refused")
	}
	return &contracts.DuplicationSet{
		ComponentRef: ref,
		Files:        map[string]contracts.FileDescriptor{"1": {Ref: "1", DisplayName: ref}},
	}, nil
}

func issue(key, rule, component string) contracts.AnalysisIssue {
	return contracts.AnalysisIssue{Key: key, RuleID: rule, ComponentRef: component}
}

func TestResolve_FiltersByRule(t *testing.T) {
	fetcher := &fakeFetcher{}
	r := NewResolver(fetcher, "", 0, logger.NewSilentLogger())

	sets := r.Resolve(context.Background(), []contracts.AnalysisIssue{
		issue("a", DefaultRuleID, "proj:A.java"),
		issue("b", "java:S100", "proj:B.java"),
		issue("c", DefaultRuleID, "proj:C.java"),
	})

	require.Len(t, sets, 2)
	assert.ElementsMatch(t, []string{"proj:A.java", "proj:C.java"}, fetcher.calls)
}

func TestResolve_CustomRule(t *testing.T) {
	fetcher := &fakeFetcher{}
	r := NewResolver(fetcher, "csharpsquid:DuplicatedBlocks", 0, nil)

	sets := r.Resolve(context.Background(), []contracts.AnalysisIssue{
		issue("a", DefaultRuleID, "proj:A.java"),
		issue("b", "csharpsquid:DuplicatedBlocks", "proj:B.cs"),
	})

	require.Len(t, sets, 1)
	assert.Equal(t, "proj:B.cs", sets[0].ComponentRef)
}

func TestResolve_DropsFailedFetches(t *testing.T) {
	fetcher := &fakeFetcher{failRefs: map[string]bool{"proj:B.java": true}}
	r := NewResolver(fetcher, "", 0, logger.NewSilentLogger())

	sets := r.Resolve(context.Background(), []contracts.AnalysisIssue{
		issue("a", DefaultRuleID, "proj:A.java"),
		issue("b", DefaultRuleID, "proj:B.java"),
		issue("c", DefaultRuleID, "proj:C.java"),
	})

	require.Len(t, sets, 2)
	for _, set := range sets {
		assert.NotEqual(t, "proj:B.java", set.ComponentRef)
	}
	assert.Len(t, fetcher.calls, 3, "a failure must not cancel the other fetches")
}

func TestResolve_NoQualifyingIssues(t *testing.T) {
	fetcher := &fakeFetcher{}
	sets := NewResolver(fetcher, "", 0, nil).Resolve(context.Background(), []contracts.AnalysisIssue{
		issue("b", "java:S100", "proj:B.java"),
	})

	assert.NotNil(t, sets)
	assert.Empty(t, sets)
	assert.Empty(t, fetcher.calls)
}

func TestResolve_BoundedConcurrency(t *testing.T) {
	fetcher := &fakeFetcher{delay: 20 * time.Millisecond}
	var issues []contracts.AnalysisIssue
	for i := 0; i < 10; i++ {
		issues = append(issues, issue("k", DefaultRuleID, string(rune('A'+i))))
	}

	sets := NewResolver(fetcher, "", 2, nil).Resolve(context.Background(), issues)

	assert.Len(t, sets, 10)
	assert.LessOrEqual(t, atomic.LoadInt32(&fetcher.maxInFlight), int32(2))
}
