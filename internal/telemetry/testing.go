package telemetry

import (
	"context"
	"slices"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// TestTelemetry is an enabled Telemetry whose spans and metrics stay in
// memory for assertions.
type TestTelemetry struct {
	*Telemetry

	recorder *tracetest.SpanRecorder
	reader   *sdkmetric.ManualReader
}

// NewTestTelemetry returns a healthy TestTelemetry.
func NewTestTelemetry() *TestTelemetry {
	cfg := NewDefaultConfig()
	cfg.Enabled = true

	recorder := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()

	tel := &Telemetry{
		config:         cfg,
		tracerProvider: trace.NewTracerProvider(trace.WithSpanProcessor(recorder)),
		meterProvider:  sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
	}
	tel.healthy.Store(true)
	return &TestTelemetry{Telemetry: tel, recorder: recorder, reader: reader}
}

// Spans returns the ended spans in end order.
func (t *TestTelemetry) Spans() []trace.ReadOnlySpan {
	return t.recorder.Ended()
}

// SpanByName returns the first ended span called name, or nil.
func (t *TestTelemetry) SpanByName(name string) trace.ReadOnlySpan {
	i := slices.IndexFunc(t.Spans(), func(s trace.ReadOnlySpan) bool { return s.Name() == name })
	if i < 0 {
		return nil
	}
	return t.Spans()[i]
}

func (t *TestTelemetry) AssertSpanExists(tb testing.TB, name string) {
	tb.Helper()
	if t.SpanByName(name) != nil {
		return
	}
	var names []string
	for _, s := range t.Spans() {
		names = append(names, s.Name())
	}
	tb.Errorf("span %q not recorded; have %v", name, names)
}

// AssertSpanAttribute compares the attribute's Go value (string, int64,
// float64 or bool) with want.
func (t *TestTelemetry) AssertSpanAttribute(tb testing.TB, span, key string, want any) {
	tb.Helper()
	s := t.SpanByName(span)
	if s == nil {
		tb.Fatalf("span %q not recorded", span)
	}
	for _, kv := range s.Attributes() {
		if string(kv.Key) != key {
			continue
		}
		if got := kv.Value.AsInterface(); got != want {
			tb.Errorf("span %q: %s = %v, want %v", span, key, got, want)
		}
		return
	}
	tb.Errorf("span %q has no attribute %q", span, key)
}

// Collect reads the current cumulative metrics.
func (t *TestTelemetry) Collect(ctx context.Context) (metricdata.ResourceMetrics, error) {
	var rm metricdata.ResourceMetrics
	err := t.reader.Collect(ctx, &rm)
	return rm, err
}

// HasMetric reports whether an instrument called name has recorded data.
func (t *TestTelemetry) HasMetric(name string) bool {
	rm, err := t.Collect(context.Background())
	if err != nil {
		return false
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return true
			}
		}
	}
	return false
}

// Counter sums the int64 sum points of name whose attributes include every
// attr.
func (t *TestTelemetry) Counter(name string, attrs ...attribute.KeyValue) int64 {
	rm, err := t.Collect(context.Background())
	if err != nil {
		return 0
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if m.Name != name || !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				if matches(dp.Attributes, attrs) {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func matches(set attribute.Set, attrs []attribute.KeyValue) bool {
	for _, kv := range attrs {
		if v, ok := set.Value(kv.Key); !ok || v != kv.Value {
			return false
		}
	}
	return true
}
