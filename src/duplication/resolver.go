// Package duplication fetches the duplication blocks behind duplicated-code issues.
package duplication

import (
	"context"

	"golang.org/x/sync/errgroup"

	"buildreport-agent/src/contracts"
	"buildreport-agent/src/logger"
)

// DefaultRuleID is the analysis rule that flags duplicated blocks.
const DefaultRuleID = "common-java:DuplicatedBlocks"

// Fetcher retrieves the duplication set of one component.
type Fetcher interface {
	Duplications(ctx context.Context, componentRef string) (*contracts.DuplicationSet, error)
}

// Resolver fans duplication fetches out over the qualifying issues.
type Resolver struct {
	fetcher Fetcher
	ruleID  string
	limit   int
	logger  logger.Logger
}

// NewResolver creates a resolver for issues raised by ruleID. concurrency bounds the
// number of in-flight fetches; zero or less means one goroutine per issue.
func NewResolver(fetcher Fetcher, ruleID string, concurrency int, log logger.Logger) *Resolver {
	if ruleID == "" {
		ruleID = DefaultRuleID
	}
	if log == nil {
		log = logger.NewSilentLogger()
	}
	return &Resolver{fetcher: fetcher, ruleID: ruleID, limit: concurrency, logger: log}
}

// Resolve fetches one duplication set per issue carrying the duplicated-code rule.
// A failed fetch is logged and its entry dropped; the others still complete.
func (r *Resolver) Resolve(ctx context.Context, issues []contracts.AnalysisIssue) []contracts.DuplicationSet {
	var refs []string
	for _, issue := range issues {
		if issue.RuleID == r.ruleID {
			refs = append(refs, issue.ComponentRef)
		}
	}
	if len(refs) == 0 {
		return []contracts.DuplicationSet{}
	}

	results := make([]*contracts.DuplicationSet, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	if r.limit > 0 {
		g.SetLimit(r.limit)
	}
	for i, ref := range refs {
		i, ref := i, ref
		g.Go(func() error {
			set, err := r.fetcher.Duplications(gctx, ref)
			if err != nil {
				r.logger.Warn("[Duplications] Dropping %s: %v", ref, err)
				return nil
			}
			results[i] = set
			return nil
		})
	}
	_ = g.Wait() // workers never return errors

	sets := make([]contracts.DuplicationSet, 0, len(results))
	for _, set := range results {
		if set != nil {
			sets = append(sets, *set)
		}
	}
	return sets
}
