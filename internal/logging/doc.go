// Package logging wraps Zap for ctxlearn.
//
// Hook processes write their response to stdout, so the console sink is
// stderr. The wrapper adds:
//   - a Trace level below Debug
//   - trace, session and request IDs pulled from the context
//   - redaction of sensitive keys, secret values and configured patterns
//   - sampling below error level
//   - an optional OpenTelemetry sink through the otelzap bridge
//
// Engine packages take a plain *zap.Logger; pass Logger.Underlying().
//
//	logger, err := logging.NewLogger(cfg, logging.WithScrubber(scrubber))
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//	logger.Warn(logging.WithRequestID(ctx, id), "pre-task retrieval degraded")
package logging
