package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"mcpchat/internal/domain"
	"mcpchat/internal/infra/tracer"
)

// Execute runs one tool call inside a span: it decodes the parameters into P,
// calls handler and converts what the handler returns with toResult. Decode
// failures are ErrInvalidParams; handler errors are classed by classify.
func Execute[P any](
	ctx context.Context,
	spanName string,
	logger *slog.Logger,
	rawParams json.RawMessage,
	handler func(ctx context.Context, span trace.Span, params P) (any, error),
) (*domain.ToolResult, error) {
	ctx, span := tracer.StartSpan(ctx, spanName,
		trace.WithAttributes(tracer.StringAttr("tool.name", spanName)),
	)
	defer span.End()

	var p P
	if err := json.Unmarshal(rawParams, &p); err != nil {
		tracer.RecordError(span, err)
		return nil, domain.NewDomainError(spanName, domain.ErrInvalidParams, err.Error())
	}

	out, err := handler(ctx, span, p)
	if err != nil {
		tracer.RecordError(span, err)
		logger.DebugContext(ctx, spanName+" failed", "error", err)
		return nil, classify(spanName, err)
	}

	res, err := toResult(out)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, domain.NewDomainError(spanName, domain.ErrExecution, err.Error())
	}
	span.SetAttributes(tracer.IntAttr("tool.result_bytes", len(res.Content)))
	if res.IsError {
		tracer.RecordError(span, errors.New(res.Content))
	} else {
		tracer.SetOK(span)
	}
	return res, nil
}

// toResult turns a handler's return value into a ToolResult: strings become
// text, ToolResults pass through and anything else is JSON-encoded.
func toResult(v any) (*domain.ToolResult, error) {
	switch r := v.(type) {
	case *domain.ToolResult:
		if r == nil {
			return &domain.ToolResult{}, nil
		}
		return r, nil
	case string:
		return &domain.ToolResult{Content: r}, nil
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("format result: %w", err)
	}
	return &domain.ToolResult{Content: string(data)}, nil
}
