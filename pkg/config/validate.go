package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "server.listen_address").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. All validation errors are collected and
// returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateStore(&cfg.Store)...)
	errs = append(errs, validateDatabase(&cfg.Database)...)
	errs = append(errs, validateReconcile(&cfg.Reconcile)...)
	errs = append(errs, validateAdmission(&cfg.Admission)...)
	errs = append(errs, validateRateLimits(&cfg.RateLimits)...)
	errs = append(errs, validateCircuit(&cfg.Circuit)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

// validateServer validates server configuration.
func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: "listen address is required",
		})
	}

	if cfg.ReadTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "server.read_timeout",
			Message: "read timeout must be positive",
		})
	}
	if cfg.WriteTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "server.write_timeout",
			Message: "write timeout must be positive",
		})
	}
	if cfg.IdleTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "server.idle_timeout",
			Message: "idle timeout must be positive",
		})
	}
	if cfg.ShutdownTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "server.shutdown_timeout",
			Message: "shutdown timeout must be positive",
		})
	}

	if cfg.MaxHeaderBytes < 0 {
		errs = append(errs, FieldError{
			Field:   "server.max_header_bytes",
			Message: "max header bytes must be non-negative",
		})
	}
	if cfg.MaxHeaderBytes > 10*1024*1024 { // 10MB is excessive
		errs = append(errs, FieldError{
			Field:   "server.max_header_bytes",
			Message: "max header bytes exceeds reasonable limit (10MB)",
		})
	}
	if cfg.MaxBodyBytes < 0 {
		errs = append(errs, FieldError{
			Field:   "server.max_body_bytes",
			Message: "max body bytes must be non-negative",
		})
	}

	return errs
}

// validateStore validates the counter store selection.
func validateStore(cfg *StoreConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case "memory":
	case "redis":
		if cfg.Redis.Addr == "" {
			errs = append(errs, FieldError{
				Field:   "store.redis.addr",
				Message: "redis address is required when backend is 'redis'",
			})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "store.backend",
			Message: fmt.Sprintf("invalid backend %q: must be 'memory' or 'redis'", cfg.Backend),
		})
	}

	if cfg.Redis.DB < 0 {
		errs = append(errs, FieldError{
			Field:   "store.redis.db",
			Message: "db must be non-negative",
		})
	}
	if cfg.Redis.PoolSize < 0 {
		errs = append(errs, FieldError{
			Field:   "store.redis.pool_size",
			Message: "pool size must be non-negative",
		})
	}
	if cfg.Redis.DialTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "store.redis.dial_timeout",
			Message: "dial timeout must be positive",
		})
	}

	return errs
}

// validateDatabase validates the budget database configuration.
func validateDatabase(cfg *DatabaseConfig) []FieldError {
	var errs []FieldError

	if cfg.Path == "" {
		errs = append(errs, FieldError{
			Field:   "database.path",
			Message: "database path is required",
		})
	}
	if cfg.BusyTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "database.busy_timeout",
			Message: "busy timeout must be positive",
		})
	}
	if cfg.CheckpointInterval < 0 {
		errs = append(errs, FieldError{
			Field:   "database.checkpoint_interval",
			Message: "checkpoint interval must be positive",
		})
	}

	return errs
}

// validateReconcile validates the reconcile queue configuration.
func validateReconcile(cfg *ReconcileConfig) []FieldError {
	if !cfg.IsEnabled() {
		return nil
	}

	var errs []FieldError

	if cfg.Path == "" {
		errs = append(errs, FieldError{
			Field:   "reconcile.path",
			Message: "queue path is required when reconcile is enabled",
		})
	}
	if cfg.Schedule != "" {
		if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
			errs = append(errs, FieldError{
				Field:   "reconcile.schedule",
				Message: fmt.Sprintf("invalid cron schedule %q: %v", cfg.Schedule, err),
			})
		}
	}
	if cfg.RatePerSecond <= 0 {
		errs = append(errs, FieldError{
			Field:   "reconcile.rate_per_second",
			Message: "rate per second must be positive",
		})
	}
	if cfg.BatchSize <= 0 {
		errs = append(errs, FieldError{
			Field:   "reconcile.batch_size",
			Message: "batch size must be positive",
		})
	}
	if cfg.MaxAttempts <= 0 {
		errs = append(errs, FieldError{
			Field:   "reconcile.max_attempts",
			Message: "max attempts must be positive",
		})
	}
	if cfg.InitialBackoff <= 0 {
		errs = append(errs, FieldError{
			Field:   "reconcile.initial_backoff",
			Message: "initial backoff must be positive",
		})
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		errs = append(errs, FieldError{
			Field:   "reconcile.max_backoff",
			Message: "max backoff must not be less than initial backoff",
		})
	}

	return errs
}

// validateAdmission validates gateway settings.
func validateAdmission(cfg *AdmissionConfig) []FieldError {
	var errs []FieldError

	r := cfg.UsageRetry
	if r.MaxAttempts <= 0 {
		errs = append(errs, FieldError{
			Field:   "admission.usage_retry.max_attempts",
			Message: "max attempts must be positive",
		})
	}
	if r.InitialInterval <= 0 {
		errs = append(errs, FieldError{
			Field:   "admission.usage_retry.initial_interval",
			Message: "initial interval must be positive",
		})
	}
	if r.MaxInterval < r.InitialInterval {
		errs = append(errs, FieldError{
			Field:   "admission.usage_retry.max_interval",
			Message: "max interval must not be less than initial interval",
		})
	}
	if r.Multiplier < 1 {
		errs = append(errs, FieldError{
			Field:   "admission.usage_retry.multiplier",
			Message: "multiplier must be at least 1.0",
		})
	}
	if r.MaxElapsed <= 0 {
		errs = append(errs, FieldError{
			Field:   "admission.usage_retry.max_elapsed",
			Message: "max elapsed must be positive",
		})
	}

	// Iterate in a stable order so the reported model is deterministic.
	models := make([]string, 0, len(cfg.ModelDowngrades))
	for model, target := range cfg.ModelDowngrades {
		if model == "" || target == "" {
			errs = append(errs, FieldError{
				Field:   "admission.model_downgrades",
				Message: "model names must not be empty",
			})
		}
		models = append(models, model)
	}
	sort.Strings(models)
	visited := make(map[string]bool)
	for _, model := range models {
		if err := checkCircularDowngrade(model, cfg.ModelDowngrades, visited); err != nil {
			errs = append(errs, FieldError{
				Field:   "admission.model_downgrades",
				Message: err.Error(),
			})
			break // Only report one circular reference error
		}
	}

	return errs
}

// checkCircularDowngrade checks for circular references in model downgrades.
func checkCircularDowngrade(model string, downgrades map[string]string, visited map[string]bool) error {
	if visited[model] {
		return fmt.Errorf("circular downgrade detected for model %q", model)
	}

	visited[model] = true
	if next, ok := downgrades[model]; ok {
		if err := checkCircularDowngrade(next, downgrades, visited); err != nil {
			return err
		}
	}
	delete(visited, model)

	return nil
}

// validateRateLimits validates every configured tier.
func validateRateLimits(cfg *RateLimitsConfig) []FieldError {
	var errs []FieldError

	if cfg.Global != nil {
		errs = append(errs, validateRateLimit("rate_limits.global", cfg.Global)...)
	}
	if cfg.DefaultProvider != nil {
		errs = append(errs, validateRateLimit("rate_limits.default_provider", cfg.DefaultProvider)...)
	}
	if cfg.PerUser != nil {
		errs = append(errs, validateRateLimit("rate_limits.per_user", cfg.PerUser)...)
	}
	for name, limit := range cfg.Providers {
		limit := limit
		errs = append(errs, validateRateLimit("rate_limits.providers."+name, &limit)...)
	}

	if cfg.Emergency.Threshold <= 0 || cfg.Emergency.Threshold > 1 {
		errs = append(errs, FieldError{
			Field:   "rate_limits.emergency.threshold",
			Message: "threshold must be within (0.0, 1.0]",
		})
	}
	if cfg.Emergency.Factor <= 0 || cfg.Emergency.Factor > 1 {
		errs = append(errs, FieldError{
			Field:   "rate_limits.emergency.factor",
			Message: "factor must be within (0.0, 1.0]",
		})
	}

	return errs
}

// validateRateLimit validates one fixed-window limit.
func validateRateLimit(prefix string, limit *RateLimit) []FieldError {
	var errs []FieldError

	if limit.Requests <= 0 {
		errs = append(errs, FieldError{
			Field:   prefix + ".requests",
			Message: "requests must be positive",
		})
	}
	if limit.Window <= 0 {
		errs = append(errs, FieldError{
			Field:   prefix + ".window",
			Message: "window must be positive",
		})
	}
	if limit.Burst < 0 {
		errs = append(errs, FieldError{
			Field:   prefix + ".burst",
			Message: "burst must be non-negative",
		})
	}

	return errs
}

// validateCircuit validates breaker defaults and overrides.
func validateCircuit(cfg *CircuitConfig) []FieldError {
	var errs []FieldError

	d := cfg.Defaults
	if d.TripThreshold <= 0 {
		errs = append(errs, FieldError{
			Field:   "circuit.defaults.trip_threshold",
			Message: "trip threshold must be positive",
		})
	}
	if d.CoolDown <= 0 {
		errs = append(errs, FieldError{
			Field:   "circuit.defaults.cool_down",
			Message: "cool-down must be positive",
		})
	}
	if d.HalfOpenTrials <= 0 {
		errs = append(errs, FieldError{
			Field:   "circuit.defaults.half_open_trials",
			Message: "half-open trials must be positive",
		})
	}
	if d.MaxCoolDown < d.CoolDown {
		errs = append(errs, FieldError{
			Field:   "circuit.defaults.max_cool_down",
			Message: "max cool-down must not be less than cool-down",
		})
	}

	for name, s := range cfg.Providers {
		prefix := "circuit.providers." + name
		if s.TripThreshold < 0 {
			errs = append(errs, FieldError{Field: prefix + ".trip_threshold", Message: "trip threshold must be non-negative"})
		}
		if s.CoolDown < 0 {
			errs = append(errs, FieldError{Field: prefix + ".cool_down", Message: "cool-down must be non-negative"})
		}
		if s.MaxCoolDown < 0 {
			errs = append(errs, FieldError{Field: prefix + ".max_cool_down", Message: "max cool-down must be non-negative"})
		}
		if s.HalfOpenTrials < 0 {
			errs = append(errs, FieldError{Field: prefix + ".half_open_trials", Message: "half-open trials must be non-negative"})
		}
	}

	return errs
}

// validateTelemetry validates telemetry configuration.
func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid logging level %q: must be 'debug', 'info', 'warn', or 'error'", cfg.Logging.Level),
		})
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.Logging.Format] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid logging format %q: must be 'json' or 'text'", cfg.Logging.Format),
		})
	}

	if cfg.Metrics.IsEnabled() && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{
			Field:   "telemetry.metrics.path",
			Message: "metrics path must start with /",
		})
	}

	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.endpoint",
			Message: "tracing endpoint is required when tracing is enabled",
		})
	}
	validSamplers := map[string]bool{"always": true, "never": true, "ratio": true}
	if !validSamplers[cfg.Tracing.Sampler] {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sampler",
			Message: fmt.Sprintf("invalid sampler %q: must be 'always', 'never', or 'ratio'", cfg.Tracing.Sampler),
		})
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1.0 {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sample_ratio",
			Message: "sample ratio must be between 0.0 and 1.0",
		})
	}

	if !strings.HasPrefix(cfg.Health.LivenessPath, "/") {
		errs = append(errs, FieldError{
			Field:   "telemetry.health.liveness_path",
			Message: "liveness path must start with /",
		})
	}
	if !strings.HasPrefix(cfg.Health.ReadinessPath, "/") {
		errs = append(errs, FieldError{
			Field:   "telemetry.health.readiness_path",
			Message: "readiness path must start with /",
		})
	}
	if cfg.Health.CheckTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "telemetry.health.check_timeout",
			Message: "check timeout must be positive",
		})
	}

	return errs
}
