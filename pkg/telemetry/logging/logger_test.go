package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{name: "json", config: Config{Level: "info", Format: "json"}},
		{name: "text", config: Config{Level: "debug", Format: "text"}},
		{name: "defaults", config: Config{}},
		{name: "invalid level", config: Config{Level: "verbose"}, wantErr: true},
		{name: "invalid format", config: Config{Format: "xml"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && logger == nil {
				t.Error("New() returned nil logger")
			}
		})
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := New(Config{Level: "warn", Writer: &buf})

	logger.Info("dropped")
	logger.Warn("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Error("expected info record to be filtered at warn level")
	}
	if !strings.Contains(out, "kept") {
		t.Error("expected warn record to be written")
	}
}

func TestLogger_ContextFields(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := New(Config{Level: "info", Format: "json", Writer: &buf})

	ctx := WithRequestID(context.Background(), "req-123")
	ctx = WithProvider(ctx, "openai")
	ctx = WithUser(ctx, "u1")
	logger.With("component", "test").InfoContext(ctx, "admitted", "allow", true)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("failed to decode record %q: %v", buf.String(), err)
	}
	for key, want := range map[string]any{
		"request_id": "req-123",
		"provider":   "openai",
		"user":       "u1",
		"component":  "test",
		"allow":      true,
	} {
		if rec[key] != want {
			t.Errorf("expected %s=%v, got %v", key, want, rec[key])
		}
	}
}

func TestLogger_NoContextFieldsWithoutContext(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := New(Config{Writer: &buf})

	logger.Info("plain")
	if strings.Contains(buf.String(), "request_id") {
		t.Errorf("expected no request_id, got %s", buf.String())
	}
}

func TestLogger_RedactsSensitiveKeys(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := New(Config{Format: "text", Writer: &buf})

	logger.Info("connecting", "redis_password", "hunter2", "addr", "redis:6379", "api_key", "")

	out := buf.String()
	if strings.Contains(out, "hunter2") {
		t.Errorf("expected password to be masked, got %s", out)
	}
	if !strings.Contains(out, "redis_password=***") {
		t.Errorf("expected masked password attribute, got %s", out)
	}
	if !strings.Contains(out, "addr=redis:6379") {
		t.Errorf("expected other attributes untouched, got %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := parseLevel(tt.input)
		if err != nil {
			t.Errorf("parseLevel(%q) returned error: %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestContextGetters_Empty(t *testing.T) {
	ctx := context.Background()
	if GetRequestID(ctx) != "" || GetProvider(ctx) != "" || GetUser(ctx) != "" {
		t.Error("expected empty values from a bare context")
	}
}
