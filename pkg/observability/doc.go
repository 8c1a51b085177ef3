// Package observability provides structured logging, Prometheus metrics, and OpenTelemetry tracing.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stderr)
//	logger.WithField("user_id", 42).Info("authorization denied")
//
// FromContext picks the request and user IDs out of a context populated via
// pkg/contextkeys.
//
// # Metrics
//
// Metrics (Prometheus) and OTelMetrics both implement Recorder, which the
// rbac package uses to report decisions, store failures, cache lookups and
// assignment writes:
//
//	registry := prometheus.NewRegistry()
//	recorder := observability.MultiRecorder(observability.NewMetrics(registry), otelMetrics)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:  true,
//		Endpoint: "otel-collector:4317",
//		Insecure: true,
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
//
// Tracer returns the tracer rbac uses for authorization spans.
package observability
