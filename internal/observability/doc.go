// Package observability provides logging, metrics, and tracing
// functionality for the IoT connection client.
//
// Logging is a thin Logger interface over zap:
//
//	logger, err := observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"})
//	if err != nil {
//	    return err
//	}
//	defer func() { _ = logger.Sync() }()
//
//	logger.Info("connection allocated",
//	    observability.String("endpoint", endpoint),
//	    observability.Uint16("port", port),
//	)
//
// Metrics cover configuration builds, connection allocation and WebSocket
// request signing and are exported from a dedicated Prometheus registry:
//
//	metrics := observability.NewMetrics("iot")
//	http.Handle("/metrics", metrics.Handler())
//
// Tracing wraps an OpenTelemetry tracer provider with optional OTLP export.
package observability
