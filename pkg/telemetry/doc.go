// Package telemetry groups costgate's observability packages.
//
//   - logging: slog construction, secret masking and request-scoped attributes
//   - metrics: the Prometheus registry served at /metrics and HTTP metrics
//   - tracing: OpenTelemetry tracer provider and HTTP trace propagation
//   - health: liveness and readiness probes
//
// cmd/costgate wires them together at startup:
//
//	logger, err := logging.New(logging.Config{Level: cfg.Telemetry.Logging.Level})
//	tracer, err := tracing.New(cfg.Telemetry.Tracing)
//	collector := metrics.NewCollector(cfg.Telemetry.Metrics.IsEnabled(), nil)
//	checker := health.New(cfg.Telemetry.Health.CheckTimeout)
package telemetry
