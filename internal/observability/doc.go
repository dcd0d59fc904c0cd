// Package observability provides logging and tracing functionality
// for dbpool.
//
// # Logging
//
// The Logger interface provides structured logging backed by zap:
//
//	logger, err := observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
//	logger.Info("pool initialized",
//	    observability.String("pool", "cache"),
//	    observability.Int("connections", 5),
//	)
//
// # Tracing
//
// Tracer returns the OpenTelemetry tracer used for query spans. Spans are
// recorded by whichever TracerProvider is installed globally; without one
// they are no-ops.
package observability
