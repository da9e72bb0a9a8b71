package tool

import (
	"context"
	"fmt"
)

// SearchBackend abstracts a web search engine.
type SearchBackend interface {
	Search(ctx context.Context, query string, count int) ([]SearchResult, error)
	// Name returns the backend identifier (e.g. "searxng").
	Name() string
}

// SearchResult is a single search hit.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"snippet"`
}

// SimulatedSearchBackend answers every query with one canned hit. It lets the
// server run without a search engine.
type SimulatedSearchBackend struct{}

func (SimulatedSearchBackend) Name() string { return "simulated" }

func (SimulatedSearchBackend) Search(ctx context.Context, query string, _ int) ([]SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return []SearchResult{{
		Title:   fmt.Sprintf("Sample result for: %s", query),
		URL:     "https://example.com",
		Content: "This is a sample search result",
	}}, nil
}
