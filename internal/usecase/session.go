package usecase

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"mcpchat/internal/domain"
	"mcpchat/internal/infra/metrics"
)

// SessionState is a point-in-time view of a session's dispatch flags.
type SessionState struct {
	ID           string    `json:"id"`
	Loading      bool      `json:"loading"`
	LastError    string    `json:"lastError,omitempty"`
	MessageCount int       `json:"messageCount"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// session is the mutable per-session state. It is reached only through
// SessionStore methods.
type session struct {
	mu        sync.Mutex
	id        string
	msgs      []domain.Message
	loading   bool
	lastError string
	entropy   *ulid.MonotonicEntropy
	lastMs    uint64
	updatedAt time.Time
	reaped    bool
}

func newSession(id string, now time.Time) *session {
	return &session{
		id:        id,
		msgs:      make([]domain.Message, 0),
		entropy:   ulid.Monotonic(rand.New(rand.NewSource(now.UnixNano())), 0),
		updatedAt: now,
	}
}

// nextID returns a ULID strictly greater than every id issued before it in
// this session, even if the wall clock steps backwards. Caller holds s.mu.
func (s *session) nextID(now time.Time) string {
	ms := ulid.Timestamp(now)
	if ms < s.lastMs {
		ms = s.lastMs
	}
	id, err := ulid.New(ms, s.entropy)
	if err != nil {
		// Entropy overflowed within one millisecond; move to the next.
		ms++
		id = ulid.MustNew(ms, s.entropy)
	}
	s.lastMs = ms
	return id.String()
}

func (s *session) state() SessionState {
	return SessionState{
		ID:           s.id,
		Loading:      s.loading,
		LastError:    s.lastError,
		MessageCount: len(s.msgs),
		UpdatedAt:    s.updatedAt,
	}
}

// SessionStore owns every session's message log and dispatch flags. Writes
// never fail; a session is created on the first write that names it.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*session
	bus      domain.EventBus
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewSessionStore creates an empty store. bus and m may be nil.
func NewSessionStore(bus domain.EventBus, m *metrics.Metrics) *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*session),
		bus:      bus,
		metrics:  m,
		now:      time.Now,
	}
}

func (st *SessionStore) lookup(id string) (*session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	return s, ok
}

func (st *SessionStore) getOrCreate(id string) *session {
	if s, ok := st.lookup(id); ok {
		return s
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok := st.sessions[id]; ok {
		return s
	}
	s := newSession(id, st.now())
	st.sessions[id] = s
	st.metrics.SetSessions(len(st.sessions))
	return s
}

// acquire returns the live session for id with its mutex held, retrying if
// the session it found was reaped in the meantime.
func (st *SessionStore) acquire(id string) *session {
	for {
		s := st.getOrCreate(id)
		s.mu.Lock()
		if !s.reaped {
			return s
		}
		s.mu.Unlock()
	}
}

func (st *SessionStore) publish(eventType domain.EventType, sessionID string, payload any) {
	if st.bus == nil {
		return
	}
	st.bus.Publish(context.Background(), domain.NewEvent(eventType, sessionID, payload))
}

// Create makes sure a session exists for id.
func (st *SessionStore) Create(id string) {
	st.acquire(id).mu.Unlock()
}

// Append adds a message to the session's log, assigns its id and clears
// lastError.
func (st *SessionStore) Append(sessionID, content string, kind domain.MessageKind, toolsUsed ...string) domain.Message {
	s := st.acquire(sessionID)
	defer s.mu.Unlock()
	return st.appendLocked(s, content, kind, toolsUsed)
}

func (st *SessionStore) appendLocked(s *session, content string, kind domain.MessageKind, toolsUsed []string) domain.Message {
	now := st.now()
	tools := make([]string, len(toolsUsed))
	copy(tools, toolsUsed)

	msg := domain.Message{
		ID:        s.nextID(now),
		Content:   content,
		Kind:      kind,
		Timestamp: now,
		SessionID: s.id,
		ToolsUsed: tools,
	}
	s.msgs = append(s.msgs, msg)
	s.lastError = ""
	s.updatedAt = now

	st.publish(domain.EventMessageAppended, s.id, msg)
	return msg.Clone()
}

// SetLoading sets the loading flag.
func (st *SessionStore) SetLoading(sessionID string, loading bool) {
	s := st.acquire(sessionID)
	s.loading = loading
	s.updatedAt = st.now()
	s.mu.Unlock()
}

// SetError stores a diagnostic string. An empty string clears it.
func (st *SessionStore) SetError(sessionID, diagnostic string) {
	s := st.acquire(sessionID)
	s.lastError = diagnostic
	s.mu.Unlock()
}

// ClearError resets lastError.
func (st *SessionStore) ClearError(sessionID string) {
	st.SetError(sessionID, "")
}

// Clear empties the session's log and resets its error. The loading flag is
// left alone so an in-flight dispatch still settles correctly.
func (st *SessionStore) Clear(sessionID string) {
	s := st.acquire(sessionID)
	s.msgs = make([]domain.Message, 0)
	s.lastError = ""
	s.updatedAt = st.now()
	st.publish(domain.EventSessionCleared, s.id, nil)
	s.mu.Unlock()
}

// BeginDispatch sets loading if it was clear and reports whether it did.
// It is the single-flight gate for a session.
func (st *SessionStore) BeginDispatch(sessionID string) bool {
	s := st.acquire(sessionID)
	defer s.mu.Unlock()
	if s.loading {
		return false
	}
	s.loading = true
	s.updatedAt = st.now()
	return true
}

// EndDispatch appends the terminal message of a dispatch, stores diagnostic
// as lastError (empty for success) and clears loading, all at once so no
// observer sees a terminal message while loading is still set.
func (st *SessionStore) EndDispatch(sessionID, content string, kind domain.MessageKind, toolsUsed []string, diagnostic string) domain.Message {
	s := st.acquire(sessionID)
	defer s.mu.Unlock()
	msg := st.appendLocked(s, content, kind, toolsUsed)
	s.lastError = diagnostic
	s.loading = false
	return msg
}

// Snapshot returns the session's flags. Unknown sessions report the zero
// state without being created.
func (st *SessionStore) Snapshot(sessionID string) SessionState {
	s, ok := st.lookup(sessionID)
	if !ok {
		return SessionState{ID: sessionID}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state()
}

// History returns a copy of the session's log in append order.
func (st *SessionStore) History(sessionID string) []domain.Message {
	return st.Recent(sessionID, 0)
}

// Recent returns at most limit of the newest messages, oldest first.
// limit <= 0 returns the whole log.
func (st *SessionStore) Recent(sessionID string, limit int) []domain.Message {
	s, ok := st.lookup(sessionID)
	if !ok {
		return []domain.Message{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.msgs
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]domain.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

// List returns the state of every session, ordered by id.
func (st *SessionStore) List() []SessionState {
	st.mu.RLock()
	all := make([]*session, 0, len(st.sessions))
	for _, s := range st.sessions {
		all = append(all, s)
	}
	st.mu.RUnlock()

	out := make([]SessionState, 0, len(all))
	for _, s := range all {
		s.mu.Lock()
		out = append(out, s.state())
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ReapIdle drops sessions untouched for longer than ttl and returns their
// ids. Sessions with a dispatch in flight are never reaped.
func (st *SessionStore) ReapIdle(ttl time.Duration) []string {
	if ttl <= 0 {
		return nil
	}
	cutoff := st.now().Add(-ttl)

	st.mu.Lock()
	var reaped []string
	for id, s := range st.sessions {
		s.mu.Lock()
		stale := !s.loading && s.updatedAt.Before(cutoff)
		if stale {
			s.reaped = true
		}
		s.mu.Unlock()
		if stale {
			delete(st.sessions, id)
			reaped = append(reaped, id)
		}
	}
	st.metrics.SetSessions(len(st.sessions))
	st.mu.Unlock()

	sort.Strings(reaped)
	for _, id := range reaped {
		st.publish(domain.EventSessionReaped, id, nil)
	}
	return reaped
}
