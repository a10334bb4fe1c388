// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health checks and graceful shutdown.
//
// # Structured Logging
//
// The process logger is a logrus logger with optional lumberjack rotation:
//
//	logger, err := observability.NewLogger(observability.LogOptions{Level: "info", Format: "json"})
//	observability.FromContext(ctx).WithField("role_id", id).Info("role updated")
//
// # Prometheus Metrics
//
// Metrics implements rbac.MetricsRecorder so the engine reports decisions,
// mutations and cache lookups directly:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	resolver := rbac.NewResolver(backend, rbac.WithMetrics(metrics))
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	checker.AddProbe("snapshot_bucket", exporter.HealthCheck, observability.Optional)
//	observability.RegisterHealthRoutes(router, checker)
//
// A failing Critical probe makes /health/ready return 503; Optional probes and
// probes returning ErrDegraded only mark the service degraded.
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "backstage",
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
package observability
