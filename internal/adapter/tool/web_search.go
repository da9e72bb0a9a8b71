package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"mcpchat/internal/domain"
	"mcpchat/internal/infra/tracer"
)

const maxSearchCount = 20

// WebSearchTool searches the web through a SearchBackend.
type WebSearchTool struct {
	backend      SearchBackend
	defaultCount int
	logger       *slog.Logger
}

// NewWebSearchTool creates a web search tool. defaultCount <= 0 uses 5.
func NewWebSearchTool(backend SearchBackend, defaultCount int, logger *slog.Logger) *WebSearchTool {
	if defaultCount <= 0 {
		defaultCount = 5
	}
	return &WebSearchTool{backend: backend, defaultCount: min(defaultCount, maxSearchCount), logger: logger}
}

func (t *WebSearchTool) Name() string        { return "web_search" }
func (t *WebSearchTool) Description() string { return "Search the web for current information" }

// Capabilities implements domain.CapabilityLister.
func (t *WebSearchTool) Capabilities() []string { return []string{"search"} }

func (t *WebSearchTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "minLength": 1, "description": "The search query"},
				"count": {"type": "integer", "minimum": 1, "maximum": 20, "description": "Number of results"}
			},
			"required": ["query"]
		}`),
	}
}

// DeriveParams searches for the message itself.
func (t *WebSearchTool) DeriveParams(message string) json.RawMessage {
	data, _ := json.Marshal(webSearchParams{Query: message})
	return data
}

type webSearchParams struct {
	Query string `json:"query"`
	Count int    `json:"count,omitempty"`
}

func (t *WebSearchTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.web_search", t.logger, params,
		func(ctx context.Context, span trace.Span, p webSearchParams) (any, error) {
			if err := RequireField("query", p.Query); err != nil {
				return nil, err
			}
			span.SetAttributes(
				tracer.StringAttr("tool.query", p.Query),
				tracer.StringAttr("tool.backend", t.backend.Name()),
			)

			count := p.Count
			if count <= 0 {
				count = t.defaultCount
			}
			count = min(count, maxSearchCount)

			results, err := t.backend.Search(ctx, p.Query, count)
			if err != nil {
				return nil, err
			}
			if len(results) > count {
				results = results[:count]
			}
			t.logger.Debug("web search completed", "query", p.Query, "results", len(results))
			return formatSearchResults(p.Query, results), nil
		},
	)
}

func formatSearchResults(query string, results []SearchResult) string {
	if len(results) == 0 {
		return fmt.Sprintf("No search results found for %q.", query)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Search results for %q:\n", query)
	for i, r := range results {
		fmt.Fprintf(&sb, "\n%d. %s\n   URL: %s\n   %s\n", i+1, r.Title, r.URL, r.Content)
	}
	return sb.String()
}
