// Package metrics owns the Prometheus registry served at /metrics.
//
// The Collector registers HTTP server metrics and exposes its registry so
// that other components, such as the admission gateway's limits.Metrics,
// register into the same exposition:
//
//	collector := metrics.NewCollector(cfg.Telemetry.Metrics.IsEnabled(), nil)
//	gatewayMetrics := limits.NewMetrics(collector.Registry())
//	mux.Handle("GET /metrics", collector.Handler())
//	handler := collector.Middleware(mux)
//
// Route labels come from the ServeMux pattern, not the raw path, and are
// capped by a CardinalityLimiter so unmatched paths cannot grow the series
// count without bound.
package metrics
