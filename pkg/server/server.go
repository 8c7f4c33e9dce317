// Package server provides the costgate HTTP server.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"mercator-hq/costgate/pkg/api/handlers"
	"mercator-hq/costgate/pkg/api/middleware"
	"mercator-hq/costgate/pkg/config"
	"mercator-hq/costgate/pkg/telemetry/health"
	"mercator-hq/costgate/pkg/telemetry/metrics"
	"mercator-hq/costgate/pkg/telemetry/tracing"
)

// Options carries everything the server mounts.
type Options struct {
	Server    config.ServerConfig
	Telemetry config.TelemetryConfig

	// API holds the admission and budget components behind the REST routes.
	API handlers.Dependencies

	// Health serves the liveness and readiness probes. Optional.
	Health *health.Checker

	// Metrics serves /metrics and records HTTP metrics. Optional.
	Metrics *metrics.Collector

	Version health.VersionInfo
	Logger  *slog.Logger
}

// Server is the costgate HTTP server.
type Server struct {
	opts       Options
	logger     *slog.Logger
	httpServer *http.Server

	shutdownOnce sync.Once
	mu           sync.RWMutex
	isRunning    bool
	addr         net.Addr
}

// New creates a server. It does not listen until Start is called.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		opts:   opts,
		logger: logger.With("component", "server"),
	}
}

// Start listens on the configured address and serves until ctx is cancelled
// or Shutdown is called. A cancelled ctx triggers a graceful shutdown bounded
// by the configured shutdown timeout.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}

	ln, err := net.Listen("tcp", s.opts.Server.ListenAddress)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", s.opts.Server.ListenAddress, err)
	}

	s.httpServer = &http.Server{
		Handler:        s.Handler(),
		ReadTimeout:    s.opts.Server.ReadTimeout,
		WriteTimeout:   s.opts.Server.WriteTimeout,
		IdleTimeout:    s.opts.Server.IdleTimeout,
		MaxHeaderBytes: s.opts.Server.MaxHeaderBytes,
		ErrorLog:       slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	s.addr = ln.Addr()
	s.isRunning = true
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "address", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case err, ok := <-errChan:
		if ok {
			s.markStopped()
			return err
		}
		// Shutdown was called directly and Serve has returned.
		return nil
	}
}

// Shutdown gracefully stops the server, waiting for in-flight requests up
// to the configured shutdown timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.RLock()
		running, srv := s.isRunning, s.httpServer
		s.mu.RUnlock()
		if !running {
			return
		}

		timeout := s.opts.Server.ShutdownTimeout
		s.logger.Info("initiating graceful shutdown", "timeout", timeout.String())

		shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("error during server shutdown", "error", err)
			shutdownErr = fmt.Errorf("server shutdown error: %w", err)
		}

		s.markStopped()
		s.logger.Info("server stopped")
	})

	return shutdownErr
}

func (s *Server) markStopped() {
	s.mu.Lock()
	s.isRunning = false
	s.mu.Unlock()
}

// Handler builds the routed handler with the full middleware chain.
//
// From the outside in: tracing, HTTP metrics, request id, access log, panic
// recovery, body limit.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	handlers.Register(mux, s.opts.API)

	if s.opts.Health != nil {
		s.opts.Health.Register(mux,
			s.opts.Telemetry.Health.LivenessPath,
			s.opts.Telemetry.Health.ReadinessPath,
			s.opts.Version,
		)
	}

	mws := []func(http.Handler) http.Handler{tracing.HTTPMiddleware}
	if s.opts.Metrics != nil && s.opts.Metrics.Enabled() {
		mux.Handle("GET "+s.opts.Telemetry.Metrics.Path, s.opts.Metrics.Handler())
		mws = append(mws, s.opts.Metrics.Middleware)
	}
	mws = append(mws,
		middleware.RequestID,
		middleware.Logging(s.opts.Logger),
		middleware.Recovery(s.opts.Logger),
		middleware.MaxBody(s.opts.Server.MaxBodyBytes),
	)

	return middleware.Chain(mux, mws...)
}

// IsRunning reports whether the server is serving.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Addr returns the bound listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}
