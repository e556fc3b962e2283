// Package config provides configuration loading for ctxlearn.
//
// Values come from built-in defaults, then an optional YAML file, then
// CTXLEARN_* environment variables. See Load.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/ctxlearn/internal/consolidation"
	"github.com/fyrsmithlabs/ctxlearn/internal/failures"
	"github.com/fyrsmithlabs/ctxlearn/internal/hooks"
	"github.com/fyrsmithlabs/ctxlearn/internal/logging"
	"github.com/fyrsmithlabs/ctxlearn/internal/memory"
	"github.com/fyrsmithlabs/ctxlearn/internal/metrics"
	"github.com/fyrsmithlabs/ctxlearn/internal/retrieval"
	"github.com/fyrsmithlabs/ctxlearn/internal/secrets"
	"github.com/fyrsmithlabs/ctxlearn/internal/session"
	"github.com/fyrsmithlabs/ctxlearn/internal/store"
	"github.com/fyrsmithlabs/ctxlearn/internal/telemetry"
)

// DefaultStorePath is project-relative.
const DefaultStorePath = ".ctxlearn/memory.db"

// Config holds the complete ctxlearn configuration.
type Config struct {
	Store         StoreConfig         `koanf:"store"`
	Confidence    memory.Updater      `koanf:"confidence"`
	Retrieval     retrieval.Config    `koanf:"retrieval"`
	Failures      failures.Config     `koanf:"failures"`
	Session       session.Config      `koanf:"session"`
	Consolidation ConsolidationConfig `koanf:"consolidation"`
	Safety        SafetyConfig        `koanf:"safety"`
	Hooks         hooks.Config        `koanf:"hooks"`
	Secrets       secrets.Config      `koanf:"secrets"`
	Metrics       metrics.Config      `koanf:"metrics"`
	Logging       logging.Config      `koanf:"logging"`
	Telemetry     telemetry.Config    `koanf:"telemetry"`
}

// StoreConfig locates the database.
type StoreConfig struct {
	Path        string   `koanf:"path"`
	LockTimeout Duration `koanf:"lock_timeout"`
}

// ConsolidationConfig holds the prune thresholds.
type ConsolidationConfig struct {
	MaxConfidence  float64  `koanf:"max_confidence"`
	MinOccurrences int      `koanf:"min_occurrences"`
	Retention      Duration `koanf:"retention"`
}

// Job converts the section into the job's own config.
func (c ConsolidationConfig) Job() consolidation.Config {
	return consolidation.Config{
		MaxConfidence:  c.MaxConfidence,
		MinOccurrences: c.MinOccurrences,
		Retention:      c.Retention.Duration(),
	}
}

// SafetyConfig appends block rules. Built-in rules cannot be removed.
type SafetyConfig struct {
	ExtraPatterns []string `koanf:"extra_patterns"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	cons := consolidation.DefaultConfig()
	return &Config{
		Store: StoreConfig{
			Path:        DefaultStorePath,
			LockTimeout: Duration(store.DefaultLockTimeout),
		},
		Confidence: memory.DefaultUpdater(),
		Retrieval: retrieval.Config{
			Matcher: retrieval.MatcherSubstring,
			TopN:    retrieval.DefaultTopN,
		},
		Failures: failures.DefaultConfig(),
		Session:  session.DefaultConfig(),
		Consolidation: ConsolidationConfig{
			MaxConfidence:  cons.MaxConfidence,
			MinOccurrences: cons.MinOccurrences,
			Retention:      Duration(cons.Retention),
		},
		Hooks:     hooks.DefaultConfig(),
		Secrets:   secrets.DefaultConfig(),
		Logging:   *logging.NewDefaultConfig(),
		Telemetry: *telemetry.NewDefaultConfig(),
	}
}

// Validate checks every section and joins the failures.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Store.Path) == "" {
		errs = append(errs, errors.New("store.path is required"))
	}
	if c.Store.LockTimeout.Duration() <= 0 {
		errs = append(errs, errors.New("store.lock_timeout must be positive"))
	}
	for _, v := range []struct {
		section string
		check   func() error
	}{
		{"confidence", c.Confidence.Validate},
		{"retrieval", c.Retrieval.Validate},
		{"failures", c.Failures.Validate},
		{"session", c.Session.Validate},
		{"consolidation", c.Consolidation.Job().Validate},
		{"hooks", c.Hooks.Validate},
		{"logging", c.Logging.Validate},
		{"telemetry", c.Telemetry.Validate},
	} {
		if err := v.check(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", v.section, err))
		}
	}
	return errors.Join(errs...)
}

// StoreOptions returns the store options implied by the config.
func (c *Config) StoreOptions() []store.Option {
	return []store.Option{
		store.WithUpdater(c.Confidence),
		store.WithLockTimeout(c.Store.LockTimeout.Duration()),
	}
}

// Engine converts the config into the hook engine's settings.
func (c *Config) Engine() hooks.EngineConfig {
	return hooks.EngineConfig{
		Hooks:          c.Hooks,
		Retrieval:      c.Retrieval,
		Failures:       c.Failures,
		Session:        c.Session,
		Consolidation:  c.Consolidation.Job(),
		Secrets:        c.Secrets,
		SafetyPatterns: c.Safety.ExtraPatterns,
	}
}

