package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/log/noop"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig())
	require.NoError(t, err)

	assert.False(t, tel.IsEnabled())
	assert.Equal(t, HealthStatus{Healthy: true}, tel.Health())

	_, span := tel.Tracer("test").Start(context.Background(), "noop")
	span.End()
	assert.NoError(t, tel.ForceFlush(context.Background()))
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.Endpoint = ""
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestNew_WithExporters(t *testing.T) {
	ctx := context.Background()
	spans := tracetest.NewInMemoryExporter()
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.Metrics.Enabled = false

	tel, err := New(ctx, cfg, WithTraceExporter(spans))
	require.NoError(t, err)
	assert.True(t, tel.IsEnabled())

	_, span := tel.Tracer("ctxlearn/hooks").Start(ctx, "hooks.pre-task")
	span.End()
	require.NoError(t, tel.ForceFlush(ctx))

	got := spans.GetSpans()
	require.Len(t, got, 1)
	assert.Equal(t, "hooks.pre-task", got[0].Name)

	var service string
	for _, kv := range got[0].Resource.Attributes() {
		if kv.Key == "service.name" {
			service = kv.Value.AsString()
		}
	}
	assert.Equal(t, "ctxlearn", service)

	require.NoError(t, tel.Shutdown(ctx))
	assert.False(t, tel.IsEnabled())
}

func TestTelemetry_NilSafe(t *testing.T) {
	var tel *Telemetry
	assert.NotNil(t, tel.Tracer("x"))
	assert.NotNil(t, tel.Meter("x"))
	assert.NotNil(t, tel.LoggerProvider())
	tel.SetLoggerProvider(noop.NewLoggerProvider())
	assert.NoError(t, tel.Shutdown(context.Background()))
	assert.NoError(t, tel.ForceFlush(context.Background()))
	assert.False(t, tel.IsEnabled())
	assert.True(t, tel.Health().Degraded)
}

func TestTelemetry_LoggerProvider(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig())
	require.NoError(t, err)

	lp := noop.NewLoggerProvider()
	tel.SetLoggerProvider(lp)
	assert.Equal(t, lp, tel.LoggerProvider())
}

func TestTestTelemetry_Spans(t *testing.T) {
	tel := NewTestTelemetry()
	ctx := context.Background()

	_, span := tel.Tracer("test").Start(ctx, "hooks.post-task")
	span.SetAttributes(
		attribute.String("hook.result", "ok"),
		attribute.Int64("count", 2),
		attribute.Bool("created", true),
	)
	span.End()

	tel.AssertSpanExists(t, "hooks.post-task")
	tel.AssertSpanAttribute(t, "hooks.post-task", "hook.result", "ok")
	tel.AssertSpanAttribute(t, "hooks.post-task", "count", int64(2))
	tel.AssertSpanAttribute(t, "hooks.post-task", "created", true)
	assert.Nil(t, tel.SpanByName("missing"))
	assert.True(t, tel.IsEnabled())
}

func TestTestTelemetry_Counter(t *testing.T) {
	tel := NewTestTelemetry()
	ctx := context.Background()

	counter, err := tel.Meter("test").Int64Counter("ctxlearn.hooks.invocations_total")
	require.NoError(t, err)
	counter.Add(ctx, 2, metric.WithAttributes(attribute.String("verb", "pre-task")))
	counter.Add(ctx, 1, metric.WithAttributes(attribute.String("verb", "post-task")))

	assert.Equal(t, int64(3), tel.Counter("ctxlearn.hooks.invocations_total"))
	assert.Equal(t, int64(2), tel.Counter("ctxlearn.hooks.invocations_total", attribute.String("verb", "pre-task")))
	assert.Zero(t, tel.Counter("other"))
	assert.Equal(t, int64(3), tel.Counter("ctxlearn.hooks.invocations_total"), "collecting twice does not double count")
}
