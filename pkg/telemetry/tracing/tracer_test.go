package tracing

import (
	"context"
	"errors"
	"testing"

	"mercator-hq/costgate/pkg/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// newRecordingTracer installs an in-memory exporter and restores the global
// provider when the test ends.
func newRecordingTracer(t *testing.T) (*Tracer, *tracetest.InMemoryExporter) {
	t.Helper()
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	exporter := tracetest.NewInMemoryExporter()
	tracer, err := NewWithExporter(config.TracingConfig{Enabled: true, Sampler: SamplerAlways}, exporter)
	if err != nil {
		t.Fatalf("NewWithExporter failed: %v", err)
	}
	t.Cleanup(func() { _ = tracer.Shutdown(context.Background()) })
	return tracer, exporter
}

func TestNew_Disabled(t *testing.T) {
	tracer, err := New(config.TracingConfig{Enabled: false})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if tracer.Enabled() {
		t.Error("Expected tracer to be disabled")
	}

	ctx, span := tracer.Start(context.Background(), "noop")
	defer span.End()
	if TraceID(ctx) != "" {
		t.Errorf("Expected empty trace id for noop span, got %q", TraceID(ctx))
	}
	if err := tracer.Shutdown(context.Background()); err != nil {
		t.Errorf("Expected nil shutdown error, got %v", err)
	}
}

func TestNew_InvalidSampler(t *testing.T) {
	_, err := New(config.TracingConfig{
		Enabled:  true,
		Endpoint: "localhost:4317",
		Sampler:  "sometimes",
	})
	if err == nil {
		t.Fatal("Expected error for unknown sampler")
	}
}

func TestNew_EnabledConnectsLazily(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	tracer, err := New(config.TracingConfig{
		Enabled:     true,
		Endpoint:    "127.0.0.1:1",
		Sampler:     SamplerNever,
		ServiceName: "costgate-test",
		Insecure:    true,
	})
	if err != nil {
		t.Fatalf("Expected lazy exporter to start without a collector, got %v", err)
	}
	if !tracer.Enabled() {
		t.Error("Expected tracer to be enabled")
	}
	_ = tracer.Shutdown(context.Background())
}

func TestTracer_RecordsSpans(t *testing.T) {
	tracer, exporter := newRecordingTracer(t)

	ctx, span := tracer.Start(context.Background(), "admission.admit")
	if TraceID(ctx) == "" || SpanID(ctx) == "" {
		t.Error("Expected trace and span ids in context")
	}
	SetError(span, errors.New("budget exceeded"))
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("Expected 1 span, got %d", len(spans))
	}
	if spans[0].Name != "admission.admit" {
		t.Errorf("Expected span name admission.admit, got %s", spans[0].Name)
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("Expected error status, got %v", spans[0].Status.Code)
	}
	if len(spans[0].Events) != 1 {
		t.Errorf("Expected 1 recorded error event, got %d", len(spans[0].Events))
	}
}

func TestSetStatus(t *testing.T) {
	tracer, exporter := newRecordingTracer(t)

	_, ok := tracer.Start(context.Background(), "ok")
	SetStatus(ok, nil)
	ok.End()
	_, bad := tracer.Start(context.Background(), "bad")
	SetStatus(bad, errors.New("boom"))
	bad.End()

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("Expected 2 spans, got %d", len(spans))
	}
	if spans[0].Status.Code != codes.Ok {
		t.Errorf("Expected Ok status, got %v", spans[0].Status.Code)
	}
	if spans[1].Status.Code != codes.Error {
		t.Errorf("Expected Error status, got %v", spans[1].Status.Code)
	}
}

func TestSetError_Nil(t *testing.T) {
	tracer, exporter := newRecordingTracer(t)

	_, span := tracer.Start(context.Background(), "fine")
	SetError(span, nil)
	span.End()

	if got := exporter.GetSpans()[0].Status.Code; got != codes.Unset {
		t.Errorf("Expected Unset status, got %v", got)
	}
}
