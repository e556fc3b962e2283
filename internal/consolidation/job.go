// Package consolidation prunes patterns that have proven unreliable.
//
// A pattern is removed only when all three hold: its confidence is below
// MaxConfidence, it has been seen more than MinOccurrences times, and it has
// not been seen within Retention. Failures and sessions are never touched.
package consolidation

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ctxlearn/internal/store"
)

const instrumentationName = "github.com/fyrsmithlabs/ctxlearn/internal/consolidation"

// Defaults for Config.
const (
	DefaultMaxConfidence  = 0.2
	DefaultMinOccurrences = 5
	DefaultRetention      = 7 * 24 * time.Hour
)

// Pruner deletes patterns by criteria.
type Pruner interface {
	PrunePatterns(ctx context.Context, c store.PruneCriteria) ([]string, error)
	Now() time.Time
}

// Config holds the prune thresholds.
type Config struct {
	MaxConfidence  float64
	MinOccurrences int
	Retention      time.Duration
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		MaxConfidence:  DefaultMaxConfidence,
		MinOccurrences: DefaultMinOccurrences,
		Retention:      DefaultRetention,
	}
}

// Validate checks the thresholds.
func (c Config) Validate() error {
	if c.MaxConfidence < 0 || c.MaxConfidence > 1 {
		return fmt.Errorf("consolidation.max_confidence must be between 0 and 1, got %v", c.MaxConfidence)
	}
	if c.MinOccurrences < 0 {
		return fmt.Errorf("consolidation.min_occurrences must not be negative, got %d", c.MinOccurrences)
	}
	if c.Retention < 0 {
		return fmt.Errorf("consolidation.retention must not be negative, got %s", c.Retention)
	}
	return nil
}

// Result reports one run.
type Result struct {
	Deleted  []string      `json:"deleted"`
	RanAt    time.Time     `json:"ran_at"`
	Duration time.Duration `json:"duration"`
}

// Job runs consolidation on demand. It holds no timers; callers decide when
// to run it.
type Job struct {
	pruner Pruner
	cfg    Config
	logger *zap.Logger
	tracer trace.Tracer
	meter  metric.Meter

	runCounter     metric.Int64Counter
	deletedCounter metric.Int64Counter
}

// NewJob returns a Job.
func NewJob(pruner Pruner, cfg Config, logger *zap.Logger) *Job {
	if logger == nil {
		logger = zap.NewNop()
	}
	j := &Job{
		pruner: pruner,
		cfg:    cfg,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}
	j.initMetrics()
	return j
}

func (j *Job) initMetrics() {
	var err error

	j.runCounter, err = j.meter.Int64Counter(
		"ctxlearn.consolidation.runs_total",
		metric.WithDescription("Total number of consolidation runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		j.logger.Warn("failed to create run counter", zap.Error(err))
	}

	j.deletedCounter, err = j.meter.Int64Counter(
		"ctxlearn.consolidation.deleted_total",
		metric.WithDescription("Total number of patterns pruned"),
		metric.WithUnit("{pattern}"),
	)
	if err != nil {
		j.logger.Warn("failed to create deleted counter", zap.Error(err))
	}
}

// Run prunes once.
func (j *Job) Run(ctx context.Context) (Result, error) {
	ctx, span := j.tracer.Start(ctx, "consolidation.run")
	defer span.End()

	start := time.Now()
	ranAt := j.pruner.Now()

	deleted, err := j.pruner.PrunePatterns(ctx, store.PruneCriteria{
		MaxConfidence:  j.cfg.MaxConfidence,
		MinOccurrences: j.cfg.MinOccurrences,
		SeenBefore:     ranAt.Add(-j.cfg.Retention),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, fmt.Errorf("consolidation: %w", err)
	}

	res := Result{Deleted: deleted, RanAt: ranAt, Duration: time.Since(start)}
	span.SetAttributes(attribute.Int("consolidation.deleted", len(deleted)))
	if j.runCounter != nil {
		j.runCounter.Add(ctx, 1)
	}
	if j.deletedCounter != nil && len(deleted) > 0 {
		j.deletedCounter.Add(ctx, int64(len(deleted)))
	}

	j.logger.Info("consolidation finished",
		zap.Int("deleted", len(deleted)),
		zap.Strings("keys", deleted),
		zap.Duration("duration", res.Duration))
	return res, nil
}
