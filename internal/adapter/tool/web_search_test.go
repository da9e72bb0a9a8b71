package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"mcpchat/internal/domain"
)

type fakeSearch struct {
	results   []SearchResult
	err       error
	lastCount int
}

func (f *fakeSearch) Name() string { return "fake" }
func (f *fakeSearch) Search(_ context.Context, _ string, count int) ([]SearchResult, error) {
	f.lastCount = count
	return f.results, f.err
}

func TestWebSearchSimulated(t *testing.T) {
	tool := NewWebSearchTool(SimulatedSearchBackend{}, 0, newTestLogger())
	res, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"golang"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"Sample result for: golang", "https://example.com", "This is a sample search result"} {
		if !strings.Contains(res.Content, want) {
			t.Errorf("content missing %q:\n%s", want, res.Content)
		}
	}
}

func TestWebSearchCountDefaultsAndCaps(t *testing.T) {
	backend := &fakeSearch{}
	tool := NewWebSearchTool(backend, 3, newTestLogger())

	if _, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"q"}`)); err != nil {
		t.Fatal(err)
	}
	if backend.lastCount != 3 {
		t.Errorf("default count = %d, want 3", backend.lastCount)
	}
	if _, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"q","count":500}`)); err != nil {
		t.Fatal(err)
	}
	if backend.lastCount != maxSearchCount {
		t.Errorf("capped count = %d, want %d", backend.lastCount, maxSearchCount)
	}
}

func TestWebSearchTrimsOverlongResults(t *testing.T) {
	var many []SearchResult
	for i := 0; i < 5; i++ {
		many = append(many, SearchResult{Title: fmt.Sprintf("r%d", i)})
	}
	tool := NewWebSearchTool(&fakeSearch{results: many}, 2, newTestLogger())
	res, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"q"}`))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(res.Content, "r2") {
		t.Errorf("expected 2 results only:\n%s", res.Content)
	}
}

func TestWebSearchNoResults(t *testing.T) {
	tool := NewWebSearchTool(&fakeSearch{}, 0, newTestLogger())
	res, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"nothing"}`))
	if err != nil {
		t.Fatal(err)
	}
	if res.Content != `No search results found for "nothing".` {
		t.Errorf("content = %q", res.Content)
	}
}

func TestWebSearchEmptyQueryIsValidation(t *testing.T) {
	tool := NewWebSearchTool(&fakeSearch{}, 0, newTestLogger())
	_, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"   "}`))
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
}

func TestWebSearchBackendFailureIsTransport(t *testing.T) {
	tool := NewWebSearchTool(&fakeSearch{err: errors.New("search failed (HTTP 503): service unavailable")}, 0, newTestLogger())
	_, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"q"}`))
	if !errors.Is(err, domain.ErrTransport) {
		t.Fatalf("err = %v, want transport", err)
	}
}

func TestWebSearchDeriveParams(t *testing.T) {
	tool := NewWebSearchTool(SimulatedSearchBackend{}, 0, newTestLogger())
	var p webSearchParams
	if err := json.Unmarshal(tool.DeriveParams("latest go release"), &p); err != nil {
		t.Fatal(err)
	}
	if p.Query != "latest go release" {
		t.Errorf("query = %q", p.Query)
	}
}
