package tracer

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"

	"mcpchat/internal/infra/config"
)

func TestSetupDisabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TracerConfig{Enabled: false})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer shutdown(context.Background())

	if _, ok := otel.GetTracerProvider().(noop.TracerProvider); !ok {
		t.Errorf("expected noop provider, got %T", otel.GetTracerProvider())
	}
}

func TestSetupStdout(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TracerConfig{Enabled: true, Exporter: "stdout"})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer shutdown(context.Background())

	if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); !ok {
		t.Errorf("expected sdk provider, got %T", otel.GetTracerProvider())
	}
}

func TestSetupUnsupportedExporter(t *testing.T) {
	_, err := Setup(context.Background(), config.TracerConfig{Enabled: true, Exporter: "zipkin"})
	if err == nil {
		t.Fatal("expected error for unsupported exporter")
	}
}

func TestSpanHelpers(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	shutdown := Install(sdktrace.WithSpanProcessor(rec))
	defer shutdown(context.Background())

	_, ok := StartSpan(context.Background(), "ok-span")
	ok.SetAttributes(StringAttr("k", "v"), IntAttr("n", 2), StringsAttr("tools", []string{"a", "b"}))
	SetOK(ok)
	ok.End()

	_, bad := StartSpan(context.Background(), "bad-span")
	RecordError(bad, errors.New("boom"))
	bad.End()

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	if spans[0].Name() != "ok-span" || spans[0].Status().Code != codes.Ok {
		t.Errorf("span 0 = %s/%v", spans[0].Name(), spans[0].Status().Code)
	}
	if len(spans[0].Attributes()) != 3 {
		t.Errorf("span 0 attributes = %v", spans[0].Attributes())
	}
	if spans[1].Status().Code != codes.Error || spans[1].Status().Description != "boom" {
		t.Errorf("span 1 status = %+v", spans[1].Status())
	}
	if len(spans[1].Events()) != 1 {
		t.Errorf("expected recorded error event, got %d", len(spans[1].Events()))
	}
}
