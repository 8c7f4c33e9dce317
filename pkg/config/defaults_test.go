package config

import (
	"testing"
	"time"
)

func TestApplyDefaults(t *testing.T) {
	cfg := Default()

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"server.listen_address", cfg.Server.ListenAddress, DefaultListenAddress},
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeout, DefaultShutdownTimeout},
		{"store.backend", cfg.Store.Backend, DefaultStoreBackend},
		{"store.redis.key_prefix", cfg.Store.Redis.KeyPrefix, DefaultRedisKeyPrefix},
		{"database.path", cfg.Database.Path, DefaultDatabasePath},
		{"reconcile.schedule", cfg.Reconcile.Schedule, DefaultReconcileSchedule},
		{"reconcile.max_attempts", cfg.Reconcile.MaxAttempts, DefaultReconcileMaxAttempts},
		{"admission.usage_retry.max_attempts", cfg.Admission.UsageRetry.MaxAttempts, DefaultRetryMaxAttempts},
		{"admission.usage_retry.multiplier", cfg.Admission.UsageRetry.Multiplier, DefaultRetryMultiplier},
		{"rate_limits.emergency.factor", cfg.RateLimits.Emergency.Factor, DefaultEmergencyFactor},
		{"circuit.defaults.trip_threshold", cfg.Circuit.Defaults.TripThreshold, DefaultTripThreshold},
		{"circuit.defaults.cool_down", cfg.Circuit.Defaults.CoolDown, DefaultCoolDown},
		{"circuit.defaults.half_open_trials", cfg.Circuit.Defaults.HalfOpenTrials, DefaultHalfOpenTrials},
		{"telemetry.logging.level", cfg.Telemetry.Logging.Level, DefaultLoggingLevel},
		{"telemetry.tracing.service_name", cfg.Telemetry.Tracing.ServiceName, DefaultTracingServiceName},
		{"telemetry.health.readiness_path", cfg.Telemetry.Health.ReadinessPath, DefaultReadinessPath},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, tt.got)
			}
		})
	}

	if err := Validate(cfg); err != nil {
		t.Errorf("expected default configuration to be valid, got %v", err)
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Server:  ServerConfig{ListenAddress: ":9000", ReadTimeout: 5 * time.Second},
		Circuit: CircuitConfig{Defaults: CircuitSettings{TripThreshold: 2}},
	}
	ApplyDefaults(cfg)

	if cfg.Server.ListenAddress != ":9000" {
		t.Errorf("expected listen address to be preserved, got %q", cfg.Server.ListenAddress)
	}
	if cfg.Server.ReadTimeout != 5*time.Second {
		t.Errorf("expected read timeout to be preserved, got %v", cfg.Server.ReadTimeout)
	}
	if cfg.Circuit.Defaults.TripThreshold != 2 {
		t.Errorf("expected trip threshold to be preserved, got %d", cfg.Circuit.Defaults.TripThreshold)
	}
}

func TestApplyDefaults_Idempotent(t *testing.T) {
	cfg := Default()
	before := *cfg
	ApplyDefaults(cfg)

	if cfg.Server != before.Server || cfg.Database != before.Database || cfg.Circuit.Defaults != before.Circuit.Defaults {
		t.Error("expected ApplyDefaults to be idempotent")
	}
}
