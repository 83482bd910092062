// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health checks and graceful shutdown for auditkit
// services.
//
// # Structured Logging
//
//	logger := observability.NewLogger(logrus.InfoLevel, os.Stdout)
//	observability.FromContext(ctx, logger).Info("Audit log saved")
//
// FromContext adds request_id, user_id, tenant_id, trace_id and span_id when
// the context carries them.
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	manager, _ := auditing.NewManager(store, registry, auditing.WithMetrics(metrics))
//	observability.RegisterMetricsEndpoint(router, registry)
//
// Metrics implements auditing.MetricsRecorder.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	checker.AddCheck("s3", true, s3Store.Ping)
//	observability.RegisterHealthRoutes(router, checker)
//
// # OpenTelemetry
//
//	tp, err := observability.InitTracing(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "auditd",
//		Insecure:    true,
//	}, logger)
//	defer observability.ShutdownTracing(ctx, tp, logger)
//
// InitMetrics installs an OTLP meter provider. OTelMetrics records the same
// measurements as Metrics on it, and Combine fans out to both:
//
//	mp, err := observability.InitMetrics(ctx, cfg, logger)
//	otelMetrics, err := observability.NewOTelMetrics(nil)
//	recorder := observability.Combine(metrics, otelMetrics)
package observability
