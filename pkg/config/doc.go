// Package config provides configuration management for costgate.
//
// Configuration is loaded from a YAML file, completed with defaults,
// overridden from the environment and validated:
//
//	cfg, err := config.LoadConfigWithEnvOverrides("costgate.yaml")
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention COSTGATE_SECTION_FIELD:
//
//   - COSTGATE_SERVER_LISTEN_ADDRESS overrides server.listen_address
//   - COSTGATE_STORE_REDIS_PASSWORD overrides store.redis.password
//   - COSTGATE_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// # Hot Reload
//
// A Watcher reloads the file when it changes. Components subscribe to new
// configurations; only the rate_limits and circuit sections are applied at
// runtime, other sections take effect on restart.
//
//	unsubscribe := config.Subscribe(func(cfg *config.Config) { ... })
//	go config.NewWatcher(path, 0).Watch(ctx)
//
// # Example Configuration
//
//	server:
//	  listen_address: "0.0.0.0:8080"
//
//	store:
//	  backend: redis
//	  redis:
//	    addr: "redis:6379"
//
//	rate_limits:
//	  global: {requests: 1000, window: 1m, burst: 100}
//	  per_user: {requests: 60, window: 1m}
//	  emergency: {enabled: true, threshold: 0.5, factor: 0.5}
//
//	circuit:
//	  defaults: {trip_threshold: 5, cool_down: 30s}
//	  providers:
//	    openai: {trip_threshold: 10}
package config
