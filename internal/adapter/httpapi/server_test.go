package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"mcpchat/internal/adapter/synth"
	"mcpchat/internal/adapter/tool"
	"mcpchat/internal/domain"
	"mcpchat/internal/infra/config"
	"mcpchat/internal/infra/metrics"
	"mcpchat/internal/usecase"
	"mcpchat/internal/usecase/eventbus"
)

type echoTool struct{ name string }

func (e echoTool) Name() string        { return e.name }
func (e echoTool) Description() string { return "echoes its parameters" }
func (e echoTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: e.name, Description: e.Description(), Parameters: json.RawMessage(`{"type":"object"}`)}
}

func (e echoTool) Execute(_ context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return &domain.ToolResult{Content: string(params)}, nil
}

type failingSynth struct{}

func (failingSynth) Name() string { return "failing" }
func (failingSynth) Synthesize(context.Context, domain.SynthesisInput) (string, error) {
	return "", errors.New("model unavailable")
}

type stubDispatcher struct{ err error }

func (s stubDispatcher) Dispatch(context.Context, usecase.DispatchRequest) (*usecase.DispatchResult, error) {
	return nil, s.err
}

type fixture struct {
	srv        *httptest.Server
	sessions   *usecase.SessionStore
	selections *usecase.SelectionStore
	registry   *tool.Registry
	bus        *eventbus.Bus
}

func newFixture(t *testing.T, synthesizer domain.Synthesizer, mutate func(*Deps)) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := eventbus.New(logger)
	t.Cleanup(bus.Close)

	reg := tool.NewRegistry(logger, tool.WithEventBus(bus))
	require.NoError(t, reg.Register(echoTool{name: "echo"}))
	require.NoError(t, reg.Register(echoTool{name: "mirror"}))

	sessions := usecase.NewSessionStore(bus, nil)
	coord := usecase.NewCoordinator(usecase.CoordinatorDeps{
		Sessions: sessions,
		Tools:    reg,
		Synth:    synthesizer,
		Logger:   logger,
		Bus:      bus,
		Timeout:  5 * time.Second,
	})

	deps := Deps{
		Config:     config.ServerConfig{WebSocket: true, AllowedOrigins: []string{"*"}},
		Dispatcher: coord,
		Sessions:   sessions,
		Selections: usecase.NewSelectionStore(),
		Registry:   reg,
		Bus:        bus,
		Metrics:    metrics.New(),
		Logger:     logger,
	}
	if mutate != nil {
		mutate(&deps)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	srv := httptest.NewServer(New(deps).Handler(ctx))
	t.Cleanup(srv.Close)

	return &fixture{srv: srv, sessions: sessions, selections: deps.Selections, registry: reg, bus: bus}
}

func (f *fixture) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestChatWithoutTools(t *testing.T) {
	f := newFixture(t, synth.NewTemplate(), nil)

	resp := f.do(t, http.MethodPost, "/api/chat", `{"message":"hello there","sessionId":"s1"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got := decode[chatResponse](t, resp)
	assert.True(t, got.Success)
	assert.Equal(t, "hello there", got.Message)
	assert.Equal(t, "s1", got.SessionID)
	assert.Contains(t, got.AIResponse, "Hello! How can I assist you today?")
	assert.Empty(t, got.MCPToolsUsed)
	assert.NotEmpty(t, got.ID)

	hist := decode[[]domain.Message](t, f.do(t, http.MethodGet, "/api/chat/history?sessionId=s1", ""))
	require.Len(t, hist, 2)
	assert.Equal(t, domain.KindUser, hist[0].Kind)
	assert.Equal(t, domain.KindAI, hist[1].Kind)
}

func TestChatWithExplicitTools(t *testing.T) {
	f := newFixture(t, synth.NewTemplate(), nil)

	body := `{"message":"go","sessionId":"s1","useMcp":true,"mcpTools":["echo"],"toolParameters":{"echo":{"x":1}}}`
	got := decode[chatResponse](t, f.do(t, http.MethodPost, "/api/chat", body))
	assert.True(t, got.Success)
	assert.Equal(t, []string{"echo"}, got.MCPToolsUsed)
	assert.Contains(t, got.AIResponse, `{"x":1}`)
}

func TestChatUsesServerSideSelection(t *testing.T) {
	f := newFixture(t, synth.NewTemplate(), nil)

	resp := f.do(t, http.MethodPut, "/api/mcp/selection/mirror?sessionId=s1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"mirror"}, decode[[]string](t, resp))

	got := decode[chatResponse](t, f.do(t, http.MethodPost, "/api/chat", `{"message":"go","sessionId":"s1","useMcp":true}`))
	assert.Equal(t, []string{"mirror"}, got.MCPToolsUsed)

	// useMcp off ignores the selection.
	got = decode[chatResponse](t, f.do(t, http.MethodPost, "/api/chat", `{"message":"go","sessionId":"s1"}`))
	assert.Empty(t, got.MCPToolsUsed)
}

func TestChatFailedDispatchReturnsApology(t *testing.T) {
	f := newFixture(t, failingSynth{}, nil)

	resp := f.do(t, http.MethodPost, "/api/chat", `{"message":"hi","sessionId":"s1"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[chatResponse](t, resp)
	assert.False(t, got.Success)
	assert.Equal(t, usecase.ApologyText, got.Error)
	assert.Equal(t, usecase.ApologyText, got.AIResponse)

	state := decode[usecase.SessionState](t, f.do(t, http.MethodGet, "/api/chat/state?sessionId=s1", ""))
	assert.False(t, state.Loading)
	assert.NotEmpty(t, state.LastError)
	assert.Equal(t, 2, state.MessageCount)
}

func TestChatValidation(t *testing.T) {
	f := newFixture(t, synth.NewTemplate(), nil)

	tests := []struct {
		name string
		body string
	}{
		{"bad json", `{"message":`},
		{"missing session", `{"message":"hi"}`},
		{"empty message", `{"message":"   ","sessionId":"s1"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.do(t, http.MethodPost, "/api/chat", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.NotEmpty(t, decode[errorBody](t, resp).Error)
		})
	}
	assert.Equal(t, 0, f.sessions.Snapshot("s1").MessageCount)
}

func TestChatInFlightIsConflict(t *testing.T) {
	f := newFixture(t, synth.NewTemplate(), func(d *Deps) {
		d.Dispatcher = stubDispatcher{err: domain.ErrDispatchInFlight}
	})
	resp := f.do(t, http.MethodPost, "/api/chat", `{"message":"hi","sessionId":"s1"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestRecentAndClearHistory(t *testing.T) {
	f := newFixture(t, synth.NewTemplate(), nil)
	for i := 0; i < 3; i++ {
		f.sessions.Append("s1", "m", domain.KindUser)
	}

	recent := decode[[]domain.Message](t, f.do(t, http.MethodGet, "/api/chat/recent?sessionId=s1&limit=2", ""))
	assert.Len(t, recent, 2)

	resp := f.do(t, http.MethodGet, "/api/chat/recent?sessionId=s1&limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodDelete, "/api/chat/history?sessionId=s1", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 0, f.sessions.Snapshot("s1").MessageCount)
}

func TestHistoryRequiresSession(t *testing.T) {
	f := newFixture(t, synth.NewTemplate(), nil)
	resp := f.do(t, http.MethodGet, "/api/chat/history", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, synth.NewTemplate(), nil)
	for _, svc := range []string{"chat", "mcp"} {
		got := decode[map[string]string](t, f.do(t, http.MethodGet, "/api/"+svc+"/health", ""))
		assert.Equal(t, map[string]string{"status": "ok", "service": svc}, got)
	}
}

func TestListAndGetTools(t *testing.T) {
	f := newFixture(t, synth.NewTemplate(), nil)

	list := decode[[]domain.ToolDescriptor](t, f.do(t, http.MethodGet, "/api/mcp/tools", ""))
	require.Len(t, list, 2)

	desc := decode[domain.ToolDescriptor](t, f.do(t, http.MethodGet, "/api/mcp/tools/echo", ""))
	assert.Equal(t, "echo", desc.Name)
	assert.True(t, desc.Enabled)

	resp := f.do(t, http.MethodGet, "/api/mcp/tools/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, domain.CodeToolNotFound, decode[errorBody](t, resp).Code)
}

func TestExecuteTool(t *testing.T) {
	f := newFixture(t, synth.NewTemplate(), nil)

	resp := f.do(t, http.MethodPost, "/api/mcp/execute?toolName=echo", `{"a":"b"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[map[string]any](t, resp)
	assert.Equal(t, true, got["success"])
	assert.Equal(t, map[string]any{"a": "b"}, got["result"])

	resp = f.do(t, http.MethodPost, "/api/mcp/execute?toolName=missing", `{}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/mcp/execute", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/mcp/execute?toolName=echo", `{bad`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestExecuteDisabledTool(t *testing.T) {
	f := newFixture(t, synth.NewTemplate(), func(d *Deps) {
		reg := tool.NewRegistry(d.Logger, tool.WithDisabled("echo"))
		require.NoError(t, reg.Register(echoTool{name: "echo"}))
		d.Registry = reg
	})

	resp := f.do(t, http.MethodPost, "/api/mcp/execute?toolName=echo", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSelectionEndpoints(t *testing.T) {
	f := newFixture(t, synth.NewTemplate(), nil)

	f.do(t, http.MethodPut, "/api/mcp/selection/echo?sessionId=s1", "")
	f.do(t, http.MethodPut, "/api/mcp/selection/mirror?sessionId=s1", "")
	assert.Equal(t, []string{"echo", "mirror"}, decode[[]string](t, f.do(t, http.MethodGet, "/api/mcp/selection?sessionId=s1", "")))

	resp := f.do(t, http.MethodPut, "/api/mcp/selection/ghost?sessionId=s1", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	assert.Equal(t, []string{"mirror"}, decode[[]string](t, f.do(t, http.MethodDelete, "/api/mcp/selection/echo?sessionId=s1", "")))
	assert.Empty(t, decode[[]string](t, f.do(t, http.MethodDelete, "/api/mcp/selection?sessionId=s1", "")))

	// Selections are per session.
	assert.Empty(t, decode[[]string](t, f.do(t, http.MethodGet, "/api/mcp/selection?sessionId=other", "")))
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, synth.NewTemplate(), nil)
	f.do(t, http.MethodGet, "/api/chat/health", "")

	resp := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "mcpchat_http_requests_total")
}

func TestRequestIDAndSecurityHeaders(t *testing.T) {
	f := newFixture(t, synth.NewTemplate(), nil)
	resp := f.do(t, http.MethodGet, "/api/chat/health", "")
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
}

func TestBodyLimit(t *testing.T) {
	f := newFixture(t, synth.NewTemplate(), func(d *Deps) { d.Config.MaxBodyBytes = 32 })
	resp := f.do(t, http.MethodPost, "/api/chat", `{"message":"`+strings.Repeat("x", 100)+`","sessionId":"s1"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebSocketStreamsSessionEvents(t *testing.T) {
	f := newFixture(t, synth.NewTemplate(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws?sessionId=s1"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	// The subscription is registered after the handshake; retry until an
	// event for s1 arrives.
	go func() {
		for i := 0; i < 50 && ctx.Err() == nil; i++ {
			f.sessions.Append("other", "ignored", domain.KindUser)
			f.sessions.Append("s1", "hello", domain.KindUser)
			time.Sleep(20 * time.Millisecond)
		}
	}()

	var ev sessionEvent
	require.NoError(t, wsjson.Read(ctx, conn, &ev))
	assert.Equal(t, domain.EventMessageAppended, ev.Type)
	assert.Contains(t, string(ev.Payload), "hello")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrDispatchInFlight, http.StatusConflict},
		{domain.NewDomainError("x", domain.ErrToolNotFound, "y"), http.StatusNotFound},
		{domain.ErrEmptyMessage, http.StatusBadRequest},
		{domain.ErrToolDisabled, http.StatusBadRequest},
		{domain.ErrTransport, http.StatusBadGateway},
		{domain.ErrExecution, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
