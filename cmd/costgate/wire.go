package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"mercator-hq/costgate/internal/clock"
	"mercator-hq/costgate/pkg/api/handlers"
	"mercator-hq/costgate/pkg/config"
	"mercator-hq/costgate/pkg/counter"
	"mercator-hq/costgate/pkg/limits"
	"mercator-hq/costgate/pkg/limits/budget"
	"mercator-hq/costgate/pkg/limits/circuit"
	"mercator-hq/costgate/pkg/limits/enforcement"
	"mercator-hq/costgate/pkg/limits/ratelimit"
	"mercator-hq/costgate/pkg/limits/reconcile"
	"mercator-hq/costgate/pkg/limits/retry"
	"mercator-hq/costgate/pkg/limits/storage"
	"mercator-hq/costgate/pkg/server"
	"mercator-hq/costgate/pkg/telemetry/health"
	"mercator-hq/costgate/pkg/telemetry/metrics"
	"mercator-hq/costgate/pkg/telemetry/tracing"
)

// inMemoryPath selects the in-process backend for the database and the
// reconcile queue.
const inMemoryPath = ":memory:"

// app holds every long-lived component of a running server.
type app struct {
	logger *slog.Logger

	counters counter.Store
	store    storage.Store
	queue    reconcile.Queue

	registry *budget.Registry
	tracker  *budget.Tracker
	limiter  *ratelimit.Limiter
	circuits *circuit.Manager
	gateway  *limits.Gateway

	reconciler *reconcile.Reconciler
	scheduler  *reconcile.Scheduler

	tracer    *tracing.Tracer
	collector *metrics.Collector
	checker   *health.Checker
	server    *server.Server

	closers []func() error
}

// buildApp wires the components described by cfg. On error, everything
// already opened is closed.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (a *app, err error) {
	a = &app{logger: logger}
	defer func() {
		if err != nil {
			a.close()
			a = nil
		}
	}()

	clk := clock.Real{}

	if a.counters, err = newCounterStore(ctx, cfg.Store); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.counters.Close)

	if a.store, err = newBudgetStore(cfg.Database); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.store.Close)

	var sink interface {
		budget.UsageSink
		limits.OutcomeSink
	}
	if cfg.Reconcile.IsEnabled() {
		if a.queue, err = newQueue(cfg.Reconcile, cfg.Database); err != nil {
			return nil, err
		}
		a.closers = append(a.closers, a.queue.Close)
		sink = reconcile.Sink(a.queue, clk)
	}

	tracing.Version = Version
	if a.tracer, err = tracing.New(cfg.Telemetry.Tracing); err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	a.collector = metrics.NewCollector(cfg.Telemetry.Metrics.IsEnabled(), nil)
	gatewayMetrics := limits.NewMetrics(a.collector.Registry())

	if a.registry, err = budget.NewRegistry(budget.RegistryConfig{
		Repository: a.store,
		Clock:      clk,
		Logger:     logger,
	}); err != nil {
		return nil, err
	}

	usageRetry := retryPolicy(cfg.Admission.UsageRetry)
	trackerCfg := budget.TrackerConfig{
		Registry: a.registry,
		Ledger:   a.store,
		Counters: a.counters,
		Notifier: budget.NewLogNotifier(logger),
		Retry:    usageRetry,
		Clock:    clk,
		Logger:   logger,
	}
	if sink != nil {
		trackerCfg.Sink = sink
	}
	if a.tracker, err = budget.NewTracker(trackerCfg); err != nil {
		return nil, err
	}

	if a.limiter, err = ratelimit.NewLimiter(a.counters, rateLimitConfig(cfg.RateLimits),
		ratelimit.WithClock(clk),
		ratelimit.WithLogger(logger),
	); err != nil {
		return nil, err
	}

	if a.circuits, err = circuit.NewManager(a.counters, circuitConfig(cfg.Circuit),
		circuit.WithClock(clk),
		circuit.WithLogger(logger),
		circuit.WithListener(gatewayMetrics.CircuitListener()),
	); err != nil {
		return nil, err
	}

	gatewayCfg := limits.GatewayConfig{
		Circuits:       a.circuits,
		Limiter:        a.limiter,
		Registry:       a.registry,
		Tracker:        a.tracker,
		Enforcer:       enforcement.NewEnforcer(enforcement.Config{ModelDowngrades: cfg.Admission.ModelDowngrades}),
		Retry:          usageRetry,
		BudgetFailOpen: cfg.Admission.BudgetFailOpen,
		Metrics:        gatewayMetrics,
		Tracer:         a.tracer.Tracer(),
		Clock:          clk,
		Logger:         logger,
	}
	if sink != nil {
		gatewayCfg.Outcomes = sink
	}
	if a.gateway, err = limits.NewGateway(gatewayCfg); err != nil {
		return nil, err
	}

	if a.queue != nil {
		a.reconciler = reconcile.NewReconciler(a.queue, a.tracker, a.gateway, reconcileConfig(cfg.Reconcile),
			reconcile.WithClock(clk),
			reconcile.WithLogger(logger),
		)
		a.scheduler = reconcile.NewScheduler(a.reconciler, cfg.Reconcile.Schedule)
	}

	a.checker = health.New(cfg.Telemetry.Health.CheckTimeout)
	a.checker.RegisterCheck("counter_store", a.counters.Ping)
	a.checker.RegisterCheck("database", a.store.Ping)
	if p, ok := a.queue.(interface{ Ping(context.Context) error }); ok {
		a.checker.RegisterCheck("reconcile_queue", p.Ping)
	}

	a.server = server.New(server.Options{
		Server:    cfg.Server,
		Telemetry: cfg.Telemetry,
		API: handlers.Dependencies{
			Registry: a.registry,
			Tracker:  a.tracker,
			Gateway:  a.gateway,
			Circuits: a.circuits,
			Clock:    clk,
			Logger:   logger,
		},
		Health:  a.checker,
		Metrics: a.collector,
		Version: versionInfo(),
		Logger:  logger,
	})

	return a, nil
}

// reload applies the hot-reloadable sections of cfg. Other sections take
// effect on restart.
func (a *app) reload(cfg *config.Config) {
	if err := a.limiter.UpdateConfig(rateLimitConfig(cfg.RateLimits)); err != nil {
		a.logger.Error("rejected rate limit reload", "error", err)
	} else {
		a.logger.Info("rate limits reloaded")
	}
	if err := a.circuits.UpdateConfig(circuitConfig(cfg.Circuit)); err != nil {
		a.logger.Error("rejected circuit reload", "error", err)
	} else {
		a.logger.Info("circuit settings reloaded")
	}
}

// close releases resources in reverse order of acquisition.
func (a *app) close() error {
	var errs []error
	if a.tracer != nil {
		errs = append(errs, a.tracer.Shutdown(context.Background()))
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func newCounterStore(ctx context.Context, cfg config.StoreConfig) (counter.Store, error) {
	switch cfg.Backend {
	case "redis":
		store, err := counter.NewRedisStore(ctx, counter.RedisConfig{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			PoolSize:    cfg.Redis.PoolSize,
			MaxRetries:  cfg.Redis.MaxRetries,
			DialTimeout: cfg.Redis.DialTimeout,
			KeyPrefix:   cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return store, nil
	case "memory", "":
		return counter.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unsupported store backend: %s", cfg.Backend)
}

func newBudgetStore(cfg config.DatabaseConfig) (storage.Store, error) {
	if cfg.Path == inMemoryPath {
		return storage.NewMemoryStore(), nil
	}
	if err := ensureDir(cfg.Path); err != nil {
		return nil, err
	}
	store, err := storage.NewSQLiteStoreWithConfig(storage.SQLiteConfig{
		DBPath:             cfg.Path,
		CheckpointInterval: cfg.CheckpointInterval,
		BusyTimeout:        cfg.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open budget database: %w", err)
	}
	return store, nil
}

func newQueue(cfg config.ReconcileConfig, db config.DatabaseConfig) (reconcile.Queue, error) {
	if cfg.Path == inMemoryPath {
		return reconcile.NewMemoryQueue(), nil
	}
	if err := ensureDir(cfg.Path); err != nil {
		return nil, err
	}
	qcfg := reconcile.DefaultSQLiteConfig()
	qcfg.Path = cfg.Path
	if db.BusyTimeout > 0 {
		qcfg.BusyTimeout = db.BusyTimeout
	}
	q, err := reconcile.NewSQLiteQueue(qcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open reconcile queue: %w", err)
	}
	return q, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}

func rateLimitConfig(c config.RateLimitsConfig) ratelimit.Config {
	out := ratelimit.Config{
		Global:          toLimit(c.Global),
		DefaultProvider: toLimit(c.DefaultProvider),
		PerUser:         toLimit(c.PerUser),
		Emergency: ratelimit.EmergencyConfig{
			Enabled:   c.Emergency.Enabled,
			Threshold: c.Emergency.Threshold,
			Factor:    c.Emergency.Factor,
		},
	}
	if len(c.Providers) > 0 {
		out.PerProvider = make(map[string]ratelimit.Limit, len(c.Providers))
		for id, l := range c.Providers {
			out.PerProvider[id] = *toLimit(&l)
		}
	}
	return out
}

func toLimit(l *config.RateLimit) *ratelimit.Limit {
	if l == nil {
		return nil
	}
	return &ratelimit.Limit{
		Requests: int64(l.Requests),
		Window:   l.Window,
		Burst:    int64(l.Burst),
	}
}

func circuitConfig(c config.CircuitConfig) circuit.Config {
	out := circuit.Config{Defaults: toSettings(c.Defaults)}
	if len(c.Providers) > 0 {
		out.Providers = make(map[string]circuit.Settings, len(c.Providers))
		for id, s := range c.Providers {
			out.Providers[id] = toSettings(s)
		}
	}
	return out
}

func toSettings(s config.CircuitSettings) circuit.Settings {
	return circuit.Settings{
		TripThreshold:  s.TripThreshold,
		CoolDown:       s.CoolDown,
		MaxCoolDown:    s.MaxCoolDown,
		HalfOpenTrials: s.HalfOpenTrials,
	}
}

func retryPolicy(c config.RetryConfig) retry.Policy {
	return retry.Policy{
		MaxAttempts:     c.MaxAttempts,
		InitialInterval: c.InitialInterval,
		MaxInterval:     c.MaxInterval,
		Multiplier:      c.Multiplier,
		MaxElapsed:      c.MaxElapsed,
	}
}

func reconcileConfig(c config.ReconcileConfig) reconcile.Config {
	return reconcile.Config{
		BatchSize:      c.BatchSize,
		RatePerSecond:  c.RatePerSecond,
		MaxAttempts:    c.MaxAttempts,
		InitialBackoff: c.InitialBackoff,
		MaxBackoff:     c.MaxBackoff,
	}
}
