package mcp

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/fyrsmithlabs/ctxlearn/internal/memory"
)

const instrumentationName = "github.com/fyrsmithlabs/ctxlearn/internal/mcp"

// toolMetrics counts tool calls. Instruments that fail to register stay
// nil and are skipped.
type toolMetrics struct {
	calls    metric.Int64Counter
	failures metric.Int64Counter
	latency  metric.Float64Histogram
	inflight metric.Int64UpDownCounter
}

func newToolMetrics(meter metric.Meter) (*toolMetrics, error) {
	var m toolMetrics
	var err, errs error

	m.calls, err = meter.Int64Counter("ctxlearn.mcp.tool.invocations_total",
		metric.WithDescription("MCP tool calls"),
		metric.WithUnit("{call}"))
	errs = errors.Join(errs, err)

	m.failures, err = meter.Int64Counter("ctxlearn.mcp.tool.errors_total",
		metric.WithDescription("MCP tool calls that returned an error, by reason"),
		metric.WithUnit("{call}"))
	errs = errors.Join(errs, err)

	m.latency, err = meter.Float64Histogram("ctxlearn.mcp.tool.duration_seconds",
		metric.WithDescription("MCP tool call latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5))
	errs = errors.Join(errs, err)

	m.inflight, err = meter.Int64UpDownCounter("ctxlearn.mcp.tool.active_requests",
		metric.WithDescription("MCP tool calls in progress"),
		metric.WithUnit("{call}"))
	errs = errors.Join(errs, err)

	return &m, errs
}

// begin marks a call to tool in flight and returns the func that records
// its result.
func (m *toolMetrics) begin(ctx context.Context, tool string) func(error) {
	start := time.Now()
	attrs := metric.WithAttributes(attribute.String("tool", tool))
	if m.inflight != nil {
		m.inflight.Add(ctx, 1, attrs)
	}
	return func(err error) {
		if m.inflight != nil {
			m.inflight.Add(ctx, -1, attrs)
		}
		if m.calls != nil {
			m.calls.Add(ctx, 1, attrs)
		}
		if m.latency != nil {
			m.latency.Record(ctx, time.Since(start).Seconds(), attrs)
		}
		if err != nil && m.failures != nil {
			m.failures.Add(ctx, 1, metric.WithAttributes(
				attribute.String("tool", tool),
				attribute.String("reason", errorReason(err))))
		}
	}
}

// errorReason maps err to a low-cardinality label.
func errorReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, memory.ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, memory.ErrCorrupt):
		return "store_corrupt"
	case errors.Is(err, memory.ErrInvalidKey),
		errors.Is(err, memory.ErrInvalidOutcome),
		errors.Is(err, memory.ErrInvalidConfidence):
		return "validation"
	case errors.Is(err, memory.ErrSessionActive), errors.Is(err, memory.ErrSessionClosed):
		return "session_state"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	default:
		return "internal"
	}
}
