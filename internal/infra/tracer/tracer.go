package tracer

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"mcpchat/internal/infra/config"
)

const serviceName = "mcpchat"

// Setup installs the global tracer provider described by cfg and returns
// the function that flushes and stops it. Disabled tracing, or the "noop"
// exporter, installs a noop provider.
func Setup(_ context.Context, cfg config.TracerConfig) (func(context.Context) error, error) {
	exp, err := newExporter(cfg)
	if err != nil {
		return nil, err
	}
	if exp == nil {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}
	return Install(sdktrace.WithBatcher(exp)), nil
}

// newExporter returns nil, nil when no spans should be exported.
func newExporter(cfg config.TracerConfig) (sdktrace.SpanExporter, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch cfg.Exporter {
	case "", "noop":
		return nil, nil
	case "stdout":
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("stdout trace exporter: %w", err)
		}
		return exp, nil
	}
	return nil, fmt.Errorf("tracer: exporter %q not supported", cfg.Exporter)
}

// Install makes an always-sampling SDK provider built from opts the global
// provider. Tests pass a span recorder here.
func Install(opts ...sdktrace.TracerProviderOption) func(context.Context) error {
	base := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", serviceName))),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	}
	tp := sdktrace.NewTracerProvider(append(base, opts...)...)
	otel.SetTracerProvider(tp)
	return tp.Shutdown
}

// StartSpan starts name on the mcpchat tracer.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(serviceName).Start(ctx, name, opts...)
}

// RecordError attaches err to span and marks the span failed.
func RecordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func SetOK(span trace.Span) { span.SetStatus(codes.Ok, "") }

func StringAttr(k, v string) attribute.KeyValue { return attribute.String(k, v) }
func IntAttr(k string, v int) attribute.KeyValue { return attribute.Int(k, v) }
func StringsAttr(k string, v []string) attribute.KeyValue { return attribute.StringSlice(k, v) }
