// Package failures records failed attempts and decides when a task has
// failed often enough to warn about it.
package failures

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ctxlearn/internal/memory"
	"github.com/fyrsmithlabs/ctxlearn/internal/secrets"
)

// DefaultThreshold is the failure count at which ShouldWarn fires.
const DefaultThreshold = 3

// Store is the subset of the store the tracker needs.
type Store interface {
	AppendFailure(ctx context.Context, task, errorMessage, context string) (memory.Failure, error)
	GetRecentFailures(ctx context.Context, taskFilter string, limit int) ([]memory.Failure, error)
	CountFailures(ctx context.Context, taskFilter string) (int, error)
}

// Config configures a Tracker.
type Config struct {
	// Threshold is the default warning threshold.
	Threshold int `koanf:"threshold" json:"threshold"`

	// RecentLimit bounds Recent when the caller passes no limit.
	RecentLimit int `koanf:"recent_limit" json:"recent_limit"`
}

// DefaultConfig returns the standard tracker settings.
func DefaultConfig() Config {
	return Config{Threshold: DefaultThreshold, RecentLimit: 10}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Threshold < 1 {
		return fmt.Errorf("failures.threshold must be at least 1, got %d", c.Threshold)
	}
	if c.RecentLimit < 0 {
		return fmt.Errorf("failures.recent_limit must not be negative, got %d", c.RecentLimit)
	}
	return nil
}

// Tracker wraps the failure log.
type Tracker struct {
	store    Store
	scrubber *secrets.Scrubber
	cfg      Config
	logger   *zap.Logger
}

// NewTracker returns a Tracker. A nil scrubber stores messages verbatim.
func NewTracker(store Store, scrubber *secrets.Scrubber, cfg Config, logger *zap.Logger) *Tracker {
	if cfg.Threshold < 1 {
		cfg.Threshold = DefaultThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{store: store, scrubber: scrubber, cfg: cfg, logger: logger}
}

// Threshold returns the default warning threshold.
func (t *Tracker) Threshold() int {
	return t.cfg.Threshold
}

// Record appends a failure with secrets removed from the message.
func (t *Tracker) Record(ctx context.Context, task, errorMessage, failureContext string) (memory.Failure, error) {
	res := t.scrubber.Scrub(errorMessage)
	if res.Redactions > 0 {
		t.logger.Debug("redacted failure message",
			zap.String("task", task),
			zap.Int("redactions", res.Redactions),
			zap.Strings("rules", res.RuleIDs))
	}
	return t.store.AppendFailure(ctx, task, res.Text, failureContext)
}

// Recent returns failures whose task contains task, newest first.
func (t *Tracker) Recent(ctx context.Context, task string, limit int) ([]memory.Failure, error) {
	if limit <= 0 {
		limit = t.cfg.RecentLimit
	}
	return t.store.GetRecentFailures(ctx, task, limit)
}

// ShouldWarn reports whether task has at least threshold recorded failures,
// along with the count. A non-positive threshold uses the configured one.
func (t *Tracker) ShouldWarn(ctx context.Context, task string, threshold int) (bool, int, error) {
	if threshold <= 0 {
		threshold = t.cfg.Threshold
	}
	n, err := t.store.CountFailures(ctx, task)
	if err != nil {
		return false, 0, err
	}
	return n >= threshold, n, nil
}
