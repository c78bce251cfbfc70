package telemetry

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func installRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = provider.Shutdown(context.Background())
	})
	return recorder
}

func TestStartSpan_RecordsAttributes(t *testing.T) {
	recorder := installRecorder(t)

	ctx, span := StartSpan(context.Background(), "replication.run", attribute.Int("replications", 3))
	AddSpanEvent(ctx, "batch.done")
	EndSpan(span, nil)

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 ended span, got %d", len(spans))
	}
	if spans[0].Name() != "replication.run" {
		t.Errorf("unexpected span name %q", spans[0].Name())
	}
	if len(spans[0].Events()) != 1 {
		t.Errorf("expected 1 span event, got %d", len(spans[0].Events()))
	}
	found := false
	for _, kv := range spans[0].Attributes() {
		if kv.Key == "replications" && kv.Value.AsInt64() == 3 {
			found = true
		}
	}
	if !found {
		t.Error("replications attribute missing")
	}
}

func TestEndSpan_MarksError(t *testing.T) {
	recorder := installRecorder(t)

	_, span := StartSpan(context.Background(), "engine.run")
	EndSpan(span, errors.New("boom"))

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 ended span, got %d", len(spans))
	}
	if spans[0].Status().Code != codes.Error {
		t.Errorf("expected error status, got %v", spans[0].Status())
	}
}

func TestDefaultOTLPConfig(t *testing.T) {
	cfg := DefaultOTLPConfig("callflow")
	if cfg.ServiceName != "callflow" || cfg.Endpoint == "" || !cfg.InsecureTLS {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.sampler() == nil {
		t.Error("expected a sampler")
	}
}
