// Package observability provides structured logging, Prometheus and
// OpenTelemetry metrics, tracing setup, health probes and ordered shutdown.
//
// # Structured Logging
//
// Logger writes JSON lines through log/slog:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("tenant_id", tenantID).Info("tenant bootstrapped")
//
// FromContext returns a logger carrying the request, tenant and user ids
// stored in the context.
//
// # Metrics
//
// AuthzMetrics registers the engine's counters and histograms:
//
//	metrics := observability.NewAuthzMetrics(prometheus.DefaultRegisterer)
//
// A nil *AuthzMetrics records nothing. MirrorTo additionally records every
// value on OpenTelemetry instruments created by NewOTelMetrics.
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "tenantauthz",
//		Insecure:    true,
//		SampleRatio: 1,
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers)
//
// # Health Checks
//
//	checker := observability.NewHealthChecker()
//	checker.Register("database", true, db.PingContext)
//	status := checker.Check(ctx)
//
// # Shutdown
//
// ShutdownManager closes registered resources newest first within a timeout.
package observability
