package config

import "time"

// Default values for configuration fields.
const (
	// Server defaults
	DefaultListenAddress   = "127.0.0.1:8080"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxHeaderBytes  = 1048576 // 1MB
	DefaultMaxBodyBytes    = 1048576

	// Store defaults
	DefaultStoreBackend     = "memory"
	DefaultRedisAddr        = "localhost:6379"
	DefaultRedisPoolSize    = 20
	DefaultRedisMaxRetries  = 2
	DefaultRedisDialTimeout = 5 * time.Second
	DefaultRedisKeyPrefix   = "costgate:"

	// Database defaults
	DefaultDatabasePath       = "data/costgate.db"
	DefaultDatabaseBusy       = 5 * time.Second
	DefaultDatabaseCheckpoint = 5 * time.Minute

	// Reconcile defaults
	DefaultReconcilePath           = "data/reconcile.db"
	DefaultReconcileSchedule       = "@every 30s"
	DefaultReconcileRate           = 50.0
	DefaultReconcileBatchSize      = 500
	DefaultReconcileMaxAttempts    = 20
	DefaultReconcileInitialBackoff = 5 * time.Second
	DefaultReconcileMaxBackoff     = 10 * time.Minute

	// Admission defaults
	DefaultRetryMaxAttempts     = 4
	DefaultRetryInitialInterval = 50 * time.Millisecond
	DefaultRetryMaxInterval     = time.Second
	DefaultRetryMultiplier      = 2.0
	DefaultRetryMaxElapsed      = 5 * time.Second

	// Rate limit defaults
	DefaultEmergencyThreshold = 0.5
	DefaultEmergencyFactor    = 0.5

	// Circuit defaults
	DefaultTripThreshold  = 5
	DefaultCoolDown       = 30 * time.Second
	DefaultMaxCoolDown    = 5 * time.Minute
	DefaultHalfOpenTrials = 1

	// Telemetry defaults
	DefaultLoggingLevel       = "info"
	DefaultLoggingFormat      = "json"
	DefaultMetricsPath        = "/metrics"
	DefaultTracingSampler     = "ratio"
	DefaultTracingSampleRatio = 0.1
	DefaultTracingServiceName = "costgate"
	DefaultTracingTimeout     = 10 * time.Second
	DefaultLivenessPath       = "/health"
	DefaultReadinessPath      = "/ready"
	DefaultHealthCheckTimeout = 5 * time.Second
)

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.MaxHeaderBytes == 0 {
		cfg.Server.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = DefaultMaxBodyBytes
	}

	// Store defaults
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = DefaultStoreBackend
	}
	if cfg.Store.Redis.Addr == "" {
		cfg.Store.Redis.Addr = DefaultRedisAddr
	}
	if cfg.Store.Redis.PoolSize == 0 {
		cfg.Store.Redis.PoolSize = DefaultRedisPoolSize
	}
	if cfg.Store.Redis.MaxRetries == 0 {
		cfg.Store.Redis.MaxRetries = DefaultRedisMaxRetries
	}
	if cfg.Store.Redis.DialTimeout == 0 {
		cfg.Store.Redis.DialTimeout = DefaultRedisDialTimeout
	}
	if cfg.Store.Redis.KeyPrefix == "" {
		cfg.Store.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}

	// Database defaults
	if cfg.Database.Path == "" {
		cfg.Database.Path = DefaultDatabasePath
	}
	if cfg.Database.BusyTimeout == 0 {
		cfg.Database.BusyTimeout = DefaultDatabaseBusy
	}
	if cfg.Database.CheckpointInterval == 0 {
		cfg.Database.CheckpointInterval = DefaultDatabaseCheckpoint
	}

	applyReconcileDefaults(&cfg.Reconcile)
	applyRetryDefaults(&cfg.Admission.UsageRetry)

	// Rate limit defaults
	if cfg.RateLimits.Emergency.Threshold == 0 {
		cfg.RateLimits.Emergency.Threshold = DefaultEmergencyThreshold
	}
	if cfg.RateLimits.Emergency.Factor == 0 {
		cfg.RateLimits.Emergency.Factor = DefaultEmergencyFactor
	}

	// Circuit defaults; per-provider zero fields inherit at runtime.
	if cfg.Circuit.Defaults.TripThreshold == 0 {
		cfg.Circuit.Defaults.TripThreshold = DefaultTripThreshold
	}
	if cfg.Circuit.Defaults.CoolDown == 0 {
		cfg.Circuit.Defaults.CoolDown = DefaultCoolDown
	}
	if cfg.Circuit.Defaults.MaxCoolDown == 0 {
		cfg.Circuit.Defaults.MaxCoolDown = DefaultMaxCoolDown
	}
	if cfg.Circuit.Defaults.HalfOpenTrials == 0 {
		cfg.Circuit.Defaults.HalfOpenTrials = DefaultHalfOpenTrials
	}

	applyTelemetryDefaults(&cfg.Telemetry)
}

func applyReconcileDefaults(cfg *ReconcileConfig) {
	if cfg.Path == "" {
		cfg.Path = DefaultReconcilePath
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultReconcileSchedule
	}
	if cfg.RatePerSecond == 0 {
		cfg.RatePerSecond = DefaultReconcileRate
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultReconcileBatchSize
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = DefaultReconcileMaxAttempts
	}
	if cfg.InitialBackoff == 0 {
		cfg.InitialBackoff = DefaultReconcileInitialBackoff
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = DefaultReconcileMaxBackoff
	}
}

func applyRetryDefaults(cfg *RetryConfig) {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = DefaultRetryMaxAttempts
	}
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = DefaultRetryInitialInterval
	}
	if cfg.MaxInterval == 0 {
		cfg.MaxInterval = DefaultRetryMaxInterval
	}
	if cfg.Multiplier == 0 {
		cfg.Multiplier = DefaultRetryMultiplier
	}
	if cfg.MaxElapsed == 0 {
		cfg.MaxElapsed = DefaultRetryMaxElapsed
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Tracing.Sampler == "" {
		cfg.Tracing.Sampler = DefaultTracingSampler
	}
	if cfg.Tracing.SampleRatio == 0 {
		cfg.Tracing.SampleRatio = DefaultTracingSampleRatio
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = DefaultTracingServiceName
	}
	if cfg.Tracing.Timeout == 0 {
		cfg.Tracing.Timeout = DefaultTracingTimeout
	}
	if cfg.Health.LivenessPath == "" {
		cfg.Health.LivenessPath = DefaultLivenessPath
	}
	if cfg.Health.ReadinessPath == "" {
		cfg.Health.ReadinessPath = DefaultReadinessPath
	}
	if cfg.Health.CheckTimeout == 0 {
		cfg.Health.CheckTimeout = DefaultHealthCheckTimeout
	}
}
