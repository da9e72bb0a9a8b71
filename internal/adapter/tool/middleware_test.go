package tool

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"

	"mcpchat/internal/domain"
)

type greetParams struct {
	Name string `json:"name"`
}

func TestExecuteJSONResult(t *testing.T) {
	res, err := Execute(context.Background(), "test.tool", newTestLogger(), json.RawMessage(`{"name":"alice"}`),
		func(_ context.Context, _ trace.Span, p greetParams) (any, error) {
			return map[string]string{"greeting": "hello " + p.Name}, nil
		},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(res.Content, "hello alice") {
		t.Errorf("content = %s", res.Content)
	}
}

func TestExecuteStringResult(t *testing.T) {
	res, err := Execute(context.Background(), "test.tool", newTestLogger(), json.RawMessage(`{}`),
		func(context.Context, trace.Span, greetParams) (any, error) { return "plain", nil },
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Content != "plain" || res.IsError {
		t.Errorf("result = %+v", res)
	}
}

func TestExecuteToolResultPassesThrough(t *testing.T) {
	want := &domain.ToolResult{Content: "exit 1", IsError: true}
	res, err := Execute(context.Background(), "test.tool", newTestLogger(), json.RawMessage(`{}`),
		func(context.Context, trace.Span, greetParams) (any, error) { return want, nil },
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != want {
		t.Errorf("got %+v, want the handler's result", res)
	}
}

func TestExecuteBadJSONIsInvalidParams(t *testing.T) {
	called := false
	_, err := Execute(context.Background(), "test.tool", newTestLogger(), json.RawMessage(`{bad`),
		func(context.Context, trace.Span, greetParams) (any, error) {
			called = true
			return nil, nil
		},
	)
	if !errors.Is(err, domain.ErrInvalidParams) {
		t.Fatalf("err = %v, want ErrInvalidParams", err)
	}
	if called {
		t.Error("handler must not run on unparsable params")
	}
}

func TestExecuteHandlerErrorIsClassified(t *testing.T) {
	_, err := Execute(context.Background(), "test.tool", newTestLogger(), json.RawMessage(`{}`),
		func(context.Context, trace.Span, greetParams) (any, error) { return nil, errors.New("boom") },
	)
	if !errors.Is(err, domain.ErrExecution) {
		t.Fatalf("err = %v, want execution class", err)
	}

	_, err = Execute(context.Background(), "test.tool", newTestLogger(), json.RawMessage(`{}`),
		func(context.Context, trace.Span, greetParams) (any, error) { return nil, RequireField("name", "") },
	)
	if !errors.Is(err, domain.ErrValidation) || errors.Is(err, domain.ErrExecution) {
		t.Fatalf("err = %v, want validation class only", err)
	}
}

func TestExecuteUnmarshalableResult(t *testing.T) {
	_, err := Execute(context.Background(), "test.tool", newTestLogger(), json.RawMessage(`{}`),
		func(context.Context, trace.Span, greetParams) (any, error) { return make(chan int), nil },
	)
	if !errors.Is(err, domain.ErrExecution) {
		t.Fatalf("err = %v, want execution class", err)
	}
}
