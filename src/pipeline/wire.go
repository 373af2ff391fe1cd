package pipeline

import (
	"context"
	"fmt"

	"buildreport-agent/src/broker"
	"buildreport-agent/src/config"
	"buildreport-agent/src/duplication"
	"buildreport-agent/src/jenkins"
	"buildreport-agent/src/logger"
	"buildreport-agent/src/publish"
	"buildreport-agent/src/reconcile"
	"buildreport-agent/src/sonar"
	"buildreport-agent/src/store"
	"buildreport-agent/src/transport"
)

// System is an orchestrator wired to the configured upstreams and backends.
type System struct {
	*Orchestrator
	Ledger store.Store
	Events broker.Broker
}

// Close releases the ledger and event bus connections.
func (s *System) Close() error {
	var firstErr error
	if s.Events != nil {
		if err := s.Events.Close(); err != nil {
			firstErr = err
		}
	}
	if s.Ledger != nil {
		if err := s.Ledger.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NewFromConfig builds the HTTP clients, ledger and event bus described by cfg.
func NewFromConfig(ctx context.Context, cfg *config.Config, log logger.Logger) (*System, error) {
	log = logOrSilent(log)
	httpClient := transport.NewClient(cfg.HTTP.Timeout)

	var ciAuth *transport.BasicAuth
	if cfg.CI.User != "" {
		ciAuth = &transport.BasicAuth{Username: cfg.CI.User, Password: cfg.CI.Password}
	}
	builds := jenkins.NewClient(cfg.CI.BaseURL, ciAuth, httpClient)

	analysis := sonar.NewClient(cfg.Analysis.URL,
		&transport.BasicAuth{Username: cfg.Analysis.User, Password: cfg.Analysis.Password},
		httpClient, cfg.Analysis.PageSize)

	ledger, err := OpenLedger(ctx, cfg.Ledger)
	if err != nil {
		return nil, err
	}

	events, err := OpenEvents(cfg.Events, log)
	if err != nil {
		ledger.Close()
		return nil, err
	}

	target := Target{
		ProjectPath: cfg.CI.ProjectPath(),
		BuildKey:    cfg.CI.BuildKey(),
		SCM:         cfg.CI.SCM,
		ProjectKey:  cfg.Analysis.ProjectKey,
	}
	deps := Deps{
		Builds:       builds,
		Issues:       reconcile.New(analysis, cfg.Analysis.ProjectKey),
		Duplications: duplication.NewResolver(analysis, cfg.Analysis.DuplicationRule, cfg.Analysis.Concurrency, log),
		Publisher:    publish.NewPublisher(cfg.RuleEngine.URL, cfg.RuleEngine.Token, httpClient),
		Waiter:       NewWaiter(cfg.Analysis.Wait, analysis, log),
		Ledger:       ledger,
		Events:       events,
		Logger:       log,
	}

	return &System{Orchestrator: New(target, deps), Ledger: ledger, Events: events}, nil
}

// NewWaiter returns the wait strategy selected by cfg.
func NewWaiter(cfg config.WaitConfig, tasks TaskSource, log logger.Logger) Waiter {
	if cfg.Mode == config.WaitPoll {
		return &PollWait{Tasks: tasks, Interval: cfg.PollInterval, Timeout: cfg.PollTimeout, Logger: log}
	}
	return &FixedWait{Delay: cfg.Delay, Tasks: tasks, Logger: log}
}

// OpenLedger opens the configured run ledger.
func OpenLedger(ctx context.Context, cfg config.LedgerConfig) (store.Store, error) {
	switch cfg.Driver {
	case "postgres":
		pg, err := store.NewPostgresStore(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open Postgres ledger: %w", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		return pg, nil
	case "memory", "":
		return store.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown ledger driver %q", cfg.Driver)
	}
}

// OpenEvents opens the configured event bus. The "none" driver returns nil.
func OpenEvents(cfg config.EventsConfig, log logger.Logger) (broker.Broker, error) {
	switch cfg.Driver {
	case "redpanda":
		b, err := broker.NewRedpandaBroker(cfg.Brokers,
			broker.WithClientID(cfg.ClientID),
			broker.WithLogger(log),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create Redpanda broker: %w", err)
		}
		return b, nil
	case "memory", "":
		return broker.NewInMemoryBroker(), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown events driver %q", cfg.Driver)
	}
}
