package config

import "time"

// Config is the root configuration structure for costgate.
type Config struct {
	// Server contains HTTP server configuration.
	Server ServerConfig `yaml:"server"`

	// Store selects and configures the shared counter store that holds
	// live budget totals, rate-limit windows and circuit states.
	Store StoreConfig `yaml:"store"`

	// Database configures durable storage of budget definitions and usage records.
	Database DatabaseConfig `yaml:"database"`

	// Reconcile configures the queue of usage and outcome events that could
	// not be applied and the schedule that replays them.
	Reconcile ReconcileConfig `yaml:"reconcile"`

	// Admission contains gateway behavior settings.
	Admission AdmissionConfig `yaml:"admission"`

	// RateLimits configures the multi-tier rate limiter.
	// Reloaded at runtime when the configuration file changes.
	RateLimits RateLimitsConfig `yaml:"rate_limits"`

	// Circuit configures per-provider circuit breakers.
	// Reloaded at runtime when the configuration file changes.
	Circuit CircuitConfig `yaml:"circuit"`

	// Telemetry contains logging, metrics, tracing and health settings.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains configuration for the HTTP server.
type ServerConfig struct {
	// ListenAddress is the address and port to listen on.
	// Default: "127.0.0.1:8080"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire request.
	// Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the response.
	// Default: 30s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the keep-alive idle timeout.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxHeaderBytes limits request header size.
	// Default: 1048576 (1MB)
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// MaxBodyBytes limits request body size.
	// Default: 1048576 (1MB)
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// StoreConfig selects the shared counter store.
type StoreConfig struct {
	// Backend is "memory" (single instance) or "redis" (shared by all instances).
	// Default: "memory"
	Backend string `yaml:"backend"`

	// Redis configures the Redis backend.
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	// Addr is the Redis server address.
	// Default: "localhost:6379"
	Addr string `yaml:"addr"`

	// Password for AUTH. Prefer COSTGATE_STORE_REDIS_PASSWORD.
	Password string `yaml:"password"`

	// DB is the database number.
	DB int `yaml:"db"`

	// PoolSize is the maximum number of connections.
	// Default: 20
	PoolSize int `yaml:"pool_size"`

	// MaxRetries is the client-level retry count for network errors.
	// Default: 2
	MaxRetries int `yaml:"max_retries"`

	// DialTimeout bounds connection establishment.
	// Default: 5s
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// KeyPrefix namespaces every key.
	// Default: "costgate:"
	KeyPrefix string `yaml:"key_prefix"`
}

// DatabaseConfig configures the SQLite budget database.
type DatabaseConfig struct {
	// Path is the database file path.
	// Default: "data/costgate.db"
	Path string `yaml:"path"`

	// BusyTimeout is how long to wait for locks.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// CheckpointInterval is how often the WAL is checkpointed.
	// Default: 5m
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`
}

// ReconcileConfig configures deferred event replay.
type ReconcileConfig struct {
	// Enabled turns the durable queue on. When disabled, usage and outcomes
	// that exhaust their retries are reported as errors.
	// Default: true
	Enabled *bool `yaml:"enabled"`

	// Path is the queue database file path.
	// Default: "data/reconcile.db"
	Path string `yaml:"path"`

	// Schedule is a cron expression or descriptor.
	// Default: "@every 30s"
	Schedule string `yaml:"schedule"`

	// RatePerSecond paces replays.
	// Default: 50
	RatePerSecond float64 `yaml:"rate_per_second"`

	// BatchSize caps entries per run.
	// Default: 500
	BatchSize int `yaml:"batch_size"`

	// MaxAttempts dead-letters an entry after this many failed replays.
	// Default: 20
	MaxAttempts int `yaml:"max_attempts"`

	// InitialBackoff is the delay after the first failed replay.
	// Default: 5s
	InitialBackoff time.Duration `yaml:"initial_backoff"`

	// MaxBackoff caps the replay delay.
	// Default: 10m
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// IsEnabled reports whether the reconcile queue is enabled.
func (c ReconcileConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// AdmissionConfig contains gateway behavior settings.
type AdmissionConfig struct {
	// BudgetFailOpen admits requests with a warning when budgets cannot be
	// evaluated because a store is unavailable.
	// Default: false
	BudgetFailOpen bool `yaml:"budget_fail_open"`

	// UsageRetry bounds retries of usage and outcome writes.
	UsageRetry RetryConfig `yaml:"usage_retry"`

	// ModelDowngrades maps models to cheaper alternatives suggested by
	// downgrade alert actions.
	ModelDowngrades map[string]string `yaml:"model_downgrades"`
}

// RetryConfig bounds an exponential backoff loop.
type RetryConfig struct {
	// Default: 4
	MaxAttempts int `yaml:"max_attempts"`

	// Default: 50ms
	InitialInterval time.Duration `yaml:"initial_interval"`

	// Default: 1s
	MaxInterval time.Duration `yaml:"max_interval"`

	// Default: 2.0
	Multiplier float64 `yaml:"multiplier"`

	// Default: 5s
	MaxElapsed time.Duration `yaml:"max_elapsed"`
}

// RateLimitsConfig configures the limiter tiers. A nil tier is unlimited.
type RateLimitsConfig struct {
	// Global applies to all traffic.
	Global *RateLimit `yaml:"global"`

	// Providers overrides the per-provider limit by provider id.
	Providers map[string]RateLimit `yaml:"providers"`

	// DefaultProvider applies to providers without an override.
	DefaultProvider *RateLimit `yaml:"default_provider"`

	// PerUser applies to every user.
	PerUser *RateLimit `yaml:"per_user"`

	// Emergency scales all limits down while the error rate is high.
	Emergency EmergencyConfig `yaml:"emergency"`
}

// RateLimit is a fixed-window limit with burst allowance.
type RateLimit struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
	Burst    int           `yaml:"burst"`
}

// EmergencyConfig configures emergency throttling.
type EmergencyConfig struct {
	Enabled bool `yaml:"enabled"`

	// Threshold is the error rate (0.0-1.0) that activates emergency mode.
	// Default: 0.5
	Threshold float64 `yaml:"threshold"`

	// Factor scales limits while active.
	// Default: 0.5
	Factor float64 `yaml:"factor"`
}

// CircuitConfig configures circuit breakers.
type CircuitConfig struct {
	// Defaults apply to every provider.
	Defaults CircuitSettings `yaml:"defaults"`

	// Providers override individual fields of the defaults by provider id.
	Providers map[string]CircuitSettings `yaml:"providers"`
}

// CircuitSettings tunes one breaker. Zero fields inherit.
type CircuitSettings struct {
	// TripThreshold is the number of consecutive failures that opens the circuit.
	// Default: 5
	TripThreshold int `yaml:"trip_threshold"`

	// CoolDown is how long an open circuit rejects before allowing a trial.
	// Default: 30s
	CoolDown time.Duration `yaml:"cool_down"`

	// MaxCoolDown caps the doubled cool-down after failed trials.
	// Default: 5m
	MaxCoolDown time.Duration `yaml:"max_cool_down"`

	// HalfOpenTrials is the number of trial requests admitted per half-open cycle.
	// Default: 1
	HalfOpenTrials int `yaml:"half_open_trials"`
}

// TelemetryConfig contains configuration for observability.
type TelemetryConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
	Health  HealthConfig  `yaml:"health"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	AddSource bool `yaml:"add_source"`
}

// MetricsConfig contains metrics collection configuration.
type MetricsConfig struct {
	// Enabled controls whether the Prometheus endpoint is served.
	// Default: true
	Enabled *bool `yaml:"enabled"`

	// Path is the HTTP path for the metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`
}

// IsEnabled reports whether metrics are enabled.
func (c MetricsConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether traces are exported.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Endpoint is the OTLP gRPC collector endpoint, e.g. "localhost:4317".
	Endpoint string `yaml:"endpoint"`

	// Sampler is "always", "never" or "ratio".
	// Default: "ratio"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of traces sampled with the "ratio" sampler.
	// Default: 0.1
	SampleRatio float64 `yaml:"sample_ratio"`

	// ServiceName is the service name in traces.
	// Default: "costgate"
	ServiceName string `yaml:"service_name"`

	// Insecure disables TLS for the exporter connection.
	Insecure bool `yaml:"insecure"`

	// Timeout bounds each export.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`
}

// HealthConfig contains health endpoint configuration.
type HealthConfig struct {
	// LivenessPath is the liveness probe path.
	// Default: "/health"
	LivenessPath string `yaml:"liveness_path"`

	// ReadinessPath is the readiness probe path.
	// Default: "/ready"
	ReadinessPath string `yaml:"readiness_path"`

	// CheckTimeout bounds each dependency check.
	// Default: 5s
	CheckTimeout time.Duration `yaml:"check_timeout"`
}
