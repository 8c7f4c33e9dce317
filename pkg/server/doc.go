// Package server provides the costgate HTTP server.
//
// The server mounts the REST routes from package handlers, the health probes
// and the Prometheus endpoint on a single ServeMux and wraps it in the
// middleware chain:
//
//	tracing -> metrics -> request id -> access log -> recovery -> body limit -> mux
//
// # Basic Usage
//
//	srv := server.New(server.Options{
//	    Server:    cfg.Server,
//	    Telemetry: cfg.Telemetry,
//	    API:       deps,
//	    Health:    checker,
//	    Metrics:   collector,
//	    Logger:    logger,
//	})
//
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
//	defer cancel()
//
//	if err := srv.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Start blocks until ctx is cancelled, then drains in-flight requests for at
// most server.shutdown_timeout. Shutdown may also be called directly.
//
// Handler returns the fully wrapped handler without listening, which is what
// tests use with httptest.
package server
