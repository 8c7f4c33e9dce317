package config

import (
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	// globalConfig holds the singleton configuration instance.
	globalConfig atomic.Pointer[Config]

	// initOnce ensures configuration is initialized only once.
	initOnce sync.Once

	listenersMu sync.Mutex
	listeners   []func(*Config)
)

// Initialize loads configuration from the specified path with environment
// variable overrides and stores it as the global configuration.
// Subsequent calls are ignored.
func Initialize(path string) error {
	var initErr error

	initOnce.Do(func() {
		cfg, err := LoadConfigWithEnvOverrides(path)
		if err != nil {
			initErr = err
			return
		}
		globalConfig.Store(cfg)
	})

	return initErr
}

// GetConfig returns the global configuration instance, or nil if Initialize
// has not succeeded. Callers must treat the returned value as read-only.
func GetConfig() *Config {
	return globalConfig.Load()
}

// SetConfig replaces the global configuration and notifies subscribers.
func SetConfig(cfg *Config) {
	globalConfig.Store(cfg)
	notify(cfg)
}

// ReloadConfig reloads the configuration from path. The global instance is
// replaced, and subscribers notified, only if loading and validation succeed.
func ReloadConfig(path string) error {
	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		return fmt.Errorf("failed to reload configuration: %w", err)
	}
	SetConfig(cfg)
	return nil
}

// MustGetConfig returns the global configuration instance.
// It panics if the configuration has not been initialized.
func MustGetConfig() *Config {
	cfg := GetConfig()
	if cfg == nil {
		panic("configuration not initialized: call Initialize first")
	}
	return cfg
}

// Subscribe registers fn to be called with every configuration installed by
// SetConfig or ReloadConfig. The returned function unregisters it.
func Subscribe(fn func(*Config)) func() {
	listenersMu.Lock()
	defer listenersMu.Unlock()

	listeners = append(listeners, fn)
	idx := len(listeners) - 1
	return func() {
		listenersMu.Lock()
		defer listenersMu.Unlock()
		listeners[idx] = nil
	}
}

func notify(cfg *Config) {
	listenersMu.Lock()
	fns := make([]func(*Config), 0, len(listeners))
	for _, fn := range listeners {
		if fn != nil {
			fns = append(fns, fn)
		}
	}
	listenersMu.Unlock()

	for _, fn := range fns {
		fn(cfg)
	}
}

// reset clears global state. Tests only.
func reset() {
	globalConfig.Store(nil)
	initOnce = sync.Once{}
	listenersMu.Lock()
	listeners = nil
	listenersMu.Unlock()
}
