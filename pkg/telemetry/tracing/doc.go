// Package tracing configures OpenTelemetry tracing for costgate.
//
// New installs a global TracerProvider exporting over OTLP gRPC, using a
// ParentBased sampler built from the "always", "never" or "ratio" strategy.
// Components obtain tracers through otel.Tracer, so a disabled configuration
// costs only the noop provider.
//
// HTTPMiddleware extracts W3C traceparent headers from incoming requests,
// opens a server span named after the matched route and echoes the trace id
// in the X-Trace-ID response header.
//
//	tracer, err := tracing.New(cfg.Telemetry.Tracing)
//	if err != nil {
//	    return err
//	}
//	defer tracer.Shutdown(context.Background())
//
//	handler := tracing.HTTPMiddleware(mux)
package tracing
