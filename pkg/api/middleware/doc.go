// Package middleware provides the HTTP middleware of the costgate API.
//
// The server applies them outermost first:
//
//	handler := middleware.Chain(mux,
//	    middleware.RequestID,
//	    middleware.Logging(logger),
//	    middleware.Recovery(logger),
//	    middleware.MaxBody(cfg.Server.MaxBodyBytes),
//	)
//
// RequestID stores the id with logging.WithRequestID, so every log line a
// handler writes through a context-aware logger carries request_id.
package middleware
