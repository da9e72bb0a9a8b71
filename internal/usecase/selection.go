package usecase

import (
	"slices"
	"sync"

	"mcpchat/internal/domain"
)

// ToolLookup is the slice of the registry that selection reconciliation
// needs.
type ToolLookup interface {
	Get(name string) (domain.Tool, error)
}

// Selection is an ordered set of tool names proposed for the next dispatch.
// Names are not checked against the registry until Resolve.
type Selection struct {
	mu    sync.Mutex
	names []string
}

// NewSelection returns a selection holding names, duplicates removed.
func NewSelection(names ...string) *Selection {
	s := &Selection{}
	for _, n := range names {
		s.Select(n)
	}
	return s
}

// Select adds name. Selecting a name already present is a no-op.
func (s *Selection) Select(name string) {
	if name == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !slices.Contains(s.names, name) {
		s.names = append(s.names, name)
	}
}

// Deselect removes name. Deselecting an absent name is a no-op.
func (s *Selection) Deselect(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := slices.Index(s.names, name); i >= 0 {
		s.names = slices.Delete(s.names, i, i+1)
	}
}

// Clear empties the selection.
func (s *Selection) Clear() {
	s.mu.Lock()
	s.names = nil
	s.mu.Unlock()
}

// Names returns the selected names in selection order.
func (s *Selection) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Len returns the number of selected names.
func (s *Selection) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.names)
}

// Resolve returns the selected names the registry still knows, in selection
// order. Stale names are skipped, never reported.
func (s *Selection) Resolve(reg ToolLookup) []string {
	names := s.Names()
	out := names[:0]
	for _, n := range names {
		if _, err := reg.Get(n); err == nil {
			out = append(out, n)
		}
	}
	return out
}

// SelectionStore keeps one server-side Selection per session.
type SelectionStore struct {
	mu   sync.Mutex
	sels map[string]*Selection
}

// NewSelectionStore creates an empty store.
func NewSelectionStore() *SelectionStore {
	return &SelectionStore{sels: make(map[string]*Selection)}
}

// For returns the session's selection, creating an empty one on first use.
func (ss *SelectionStore) For(sessionID string) *Selection {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	s, ok := ss.sels[sessionID]
	if !ok {
		s = &Selection{}
		ss.sels[sessionID] = s
	}
	return s
}

// Drop forgets the session's selection.
func (ss *SelectionStore) Drop(sessionID string) {
	ss.mu.Lock()
	delete(ss.sels, sessionID)
	ss.mu.Unlock()
}
