// Package telemetry sets up OpenTelemetry tracing and metrics for ctxlearn.
//
// Every hook invocation opens a span and records a counter and a duration
// histogram through the Tracer and Meter returned here. With telemetry
// disabled (the default) both fall back to the global no-op providers, so
// callers never branch on it.
//
//	tel, err := telemetry.New(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Export uses OTLP over gRPC or HTTP/protobuf. Insecure transport is only
// accepted for loopback endpoints.
//
// Tests use NewTestTelemetry, which records spans in memory and collects
// metrics through a manual reader.
package telemetry
