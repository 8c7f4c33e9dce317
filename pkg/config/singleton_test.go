package config

import (
	"sync/atomic"
	"testing"
)

func TestInitialize(t *testing.T) {
	reset()
	t.Cleanup(reset)

	path := writeConfig(t, `
server:
  listen_address: "127.0.0.1:7070"
`)

	if err := Initialize(path); err != nil {
		t.Fatalf("failed to initialize config: %v", err)
	}

	cfg := GetConfig()
	if cfg == nil {
		t.Fatal("expected non-nil config after initialization")
	}
	if cfg.Server.ListenAddress != "127.0.0.1:7070" {
		t.Errorf("expected listen address %q, got %q", "127.0.0.1:7070", cfg.Server.ListenAddress)
	}
}

func TestInitialize_MultipleCallsIgnored(t *testing.T) {
	reset()
	t.Cleanup(reset)

	first := writeConfig(t, "server:\n  listen_address: \"127.0.0.1:1111\"\n")
	second := writeConfig(t, "server:\n  listen_address: \"127.0.0.1:2222\"\n")

	if err := Initialize(first); err != nil {
		t.Fatalf("failed to initialize config: %v", err)
	}
	if err := Initialize(second); err != nil {
		t.Fatalf("second Initialize returned error: %v", err)
	}

	if got := GetConfig().Server.ListenAddress; got != "127.0.0.1:1111" {
		t.Errorf("expected first configuration to win, got %q", got)
	}
}

func TestGetConfig_Uninitialized(t *testing.T) {
	reset()
	t.Cleanup(reset)

	if GetConfig() != nil {
		t.Error("expected nil config before initialization")
	}

	defer func() {
		if recover() == nil {
			t.Error("expected MustGetConfig to panic")
		}
	}()
	MustGetConfig()
}

func TestReloadConfig_NotifiesSubscribers(t *testing.T) {
	reset()
	t.Cleanup(reset)

	path := writeConfig(t, "circuit:\n  defaults:\n    trip_threshold: 7\n")

	var calls atomic.Int32
	var seen atomic.Int32
	unsubscribe := Subscribe(func(cfg *Config) {
		calls.Add(1)
		seen.Store(int32(cfg.Circuit.Defaults.TripThreshold))
	})

	if err := ReloadConfig(path); err != nil {
		t.Fatalf("ReloadConfig failed: %v", err)
	}
	if calls.Load() != 1 || seen.Load() != 7 {
		t.Errorf("expected one notification with trip threshold 7, got %d calls, threshold %d", calls.Load(), seen.Load())
	}
	if GetConfig().Circuit.Defaults.TripThreshold != 7 {
		t.Error("expected reloaded configuration to be installed")
	}

	unsubscribe()
	SetConfig(Default())
	if calls.Load() != 1 {
		t.Errorf("expected no notification after unsubscribe, got %d calls", calls.Load())
	}
}

func TestReloadConfig_InvalidKeepsPrevious(t *testing.T) {
	reset()
	t.Cleanup(reset)

	SetConfig(Default())
	path := writeConfig(t, "store:\n  backend: etcd\n")

	if err := ReloadConfig(path); err == nil {
		t.Fatal("expected reload of invalid configuration to fail")
	}
	if GetConfig().Store.Backend != DefaultStoreBackend {
		t.Error("expected previous configuration to stay in effect")
	}
}
