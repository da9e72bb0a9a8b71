package tool

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"mcpchat/internal/domain"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// fakeTool is a configurable domain.Tool for registry tests.
type fakeTool struct {
	name   string
	schema json.RawMessage
	caps   []string
	run    func(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error)
}

func (f *fakeTool) Name() string        { return f.name }
func (f *fakeTool) Description() string { return f.name + " tool" }
func (f *fakeTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: f.name, Description: f.Description(), Parameters: f.schema}
}

func (f *fakeTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	if f.run != nil {
		return f.run(ctx, params)
	}
	return &domain.ToolResult{Content: "ok"}, nil
}

type capableTool struct{ fakeTool }

func (c *capableTool) Capabilities() []string { return c.caps }

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
