package hooks

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ctxlearn/internal/consolidation"
	"github.com/fyrsmithlabs/ctxlearn/internal/failures"
	"github.com/fyrsmithlabs/ctxlearn/internal/retrieval"
	"github.com/fyrsmithlabs/ctxlearn/internal/safety"
	"github.com/fyrsmithlabs/ctxlearn/internal/secrets"
	"github.com/fyrsmithlabs/ctxlearn/internal/session"
	"github.com/fyrsmithlabs/ctxlearn/internal/store"
)

// EngineConfig gathers the component settings Build wires together.
type EngineConfig struct {
	Hooks         Config
	Retrieval     retrieval.Config
	Failures      failures.Config
	Session       session.Config
	Consolidation consolidation.Config
	Secrets       secrets.Config

	// SafetyPatterns are appended to the built-in safety rules.
	SafetyPatterns []string
}

// DefaultEngineConfig returns defaults for every component.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Hooks:         DefaultConfig(),
		Retrieval:     retrieval.Config{Matcher: retrieval.MatcherSubstring, TopN: retrieval.DefaultTopN},
		Failures:      failures.DefaultConfig(),
		Session:       session.DefaultConfig(),
		Consolidation: consolidation.DefaultConfig(),
		Secrets:       secrets.DefaultConfig(),
	}
}

// Build wires a Dispatcher over one open store.
func Build(st *store.SQLiteStore, cfg EngineConfig, logger *zap.Logger, opts ...Option) (*Dispatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	engine, err := retrieval.NewEngine(st, cfg.Retrieval, logger.Named("retrieval"))
	if err != nil {
		return nil, fmt.Errorf("retrieval: %w", err)
	}

	scrubber, err := secrets.New(cfg.Secrets)
	if err != nil {
		return nil, fmt.Errorf("secrets: %w", err)
	}

	filter, err := safety.NewFilter(cfg.SafetyPatterns)
	if err != nil {
		return nil, fmt.Errorf("safety: %w", err)
	}

	if err := cfg.Consolidation.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Session.Validate(); err != nil {
		return nil, err
	}
	job := consolidation.NewJob(st, cfg.Consolidation, logger.Named("consolidation"))

	return NewDispatcher(Deps{
		Patterns:  st,
		Retriever: engine,
		Failures:  failures.NewTracker(st, scrubber, cfg.Failures, logger.Named("failures")),
		Safety:    filter,
		Sessions:  session.NewManager(st, job, cfg.Session, logger.Named("session")),
	}, cfg.Hooks, logger, opts...)
}
