// Package httpapi serves the chat and tool API over HTTP, plus the websocket
// event stream, the MCP endpoint and Prometheus metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"mcpchat/internal/domain"
	"mcpchat/internal/infra/config"
	"mcpchat/internal/infra/metrics"
	"mcpchat/internal/infra/middleware"
	"mcpchat/internal/usecase"
)

const defaultRecentLimit = 10

// Dispatcher runs one chat turn.
type Dispatcher interface {
	Dispatch(ctx context.Context, req usecase.DispatchRequest) (*usecase.DispatchResult, error)
}

// ToolRegistry is the registry surface the API exposes.
type ToolRegistry interface {
	List() []domain.ToolDescriptor
	Describe(name string) (domain.ToolDescriptor, error)
	Get(name string) (domain.Tool, error)
	Execute(ctx context.Context, name string, params json.RawMessage) (*domain.ToolResult, error)
}

// Deps holds the collaborators of the HTTP server.
type Deps struct {
	Config      config.ServerConfig
	Dispatcher  Dispatcher
	Sessions    *usecase.SessionStore
	Selections  *usecase.SelectionStore
	Registry    ToolRegistry
	Bus         domain.EventBus  // nil disables /ws
	Metrics     *metrics.Metrics // nil disables /metrics
	MetricsPath string
	MCP         http.Handler // nil disables the MCP endpoint
	MCPPath     string
	RecentLimit int
	Logger      *slog.Logger
}

// Server is the HTTP front end.
type Server struct {
	deps      Deps
	httpSrv   *http.Server
	boundAddr string
}

// New creates a server. Call Handler for tests or Start to listen.
func New(deps Deps) *Server {
	if deps.RecentLimit <= 0 {
		deps.RecentLimit = defaultRecentLimit
	}
	if deps.MetricsPath == "" {
		deps.MetricsPath = "/metrics"
	}
	if deps.MCPPath == "" {
		deps.MCPPath = "/mcp"
	}
	if deps.Config.MaxBodyBytes <= 0 {
		deps.Config.MaxBodyBytes = 1 << 20
	}
	return &Server{deps: deps}
}

// Handler builds the routed handler with its middleware chain. ctx bounds
// background work such as rate limiter cleanup.
func (s *Server) Handler(ctx context.Context) http.Handler {
	api := http.NewServeMux()
	s.route(api, "POST /api/chat", s.handleChat)
	s.route(api, "GET /api/chat/history", s.handleHistory)
	s.route(api, "DELETE /api/chat/history", s.handleClearHistory)
	s.route(api, "GET /api/chat/recent", s.handleRecent)
	s.route(api, "GET /api/chat/state", s.handleState)
	s.route(api, "GET /api/chat/health", s.handleHealth("chat"))
	s.route(api, "GET /api/mcp/tools", s.handleListTools)
	s.route(api, "GET /api/mcp/tools/{name}", s.handleGetTool)
	s.route(api, "POST /api/mcp/execute", s.handleExecute)
	s.route(api, "GET /api/mcp/selection", s.handleGetSelection)
	s.route(api, "DELETE /api/mcp/selection", s.handleClearSelection)
	s.route(api, "PUT /api/mcp/selection/{name}", s.handleSelect)
	s.route(api, "DELETE /api/mcp/selection/{name}", s.handleDeselect)
	s.route(api, "GET /api/mcp/health", s.handleHealth("mcp"))

	var apiHandler http.Handler = api
	if rl := s.deps.Config.RateLimit; rl.Enabled && rl.RequestsPerSecond > 0 {
		apiHandler = middleware.RateLimit(ctx, middleware.RateLimitConfig{
			RequestsPerSecond: rl.RequestsPerSecond,
			Burst:             max(rl.Burst, 1),
			TrustedProxies:    rl.TrustedProxies,
		})(apiHandler)
	}

	mux := http.NewServeMux()
	mux.Handle("/api/", apiHandler)
	if s.deps.Bus != nil && s.deps.Config.WebSocket {
		mux.HandleFunc("GET /ws", s.handleWS)
	}
	if s.deps.Metrics != nil {
		mux.Handle("GET "+s.deps.MetricsPath, s.deps.Metrics.Handler())
	}
	if s.deps.MCP != nil {
		mux.Handle(s.deps.MCPPath, s.deps.MCP)
	}

	return middleware.RequestID(
		middleware.SecurityHeaders(
			middleware.CORS(s.deps.Config.AllowedOrigins)(mux),
		),
	)
}

// route registers h under pattern and records its status code.
func (s *Server) route(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		s.deps.Metrics.HTTPRequest(pattern, rec.status)
	})
}

// Start listens on the configured address and serves until ctx ends.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.deps.Config.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.deps.Config.Addr, err)
	}
	s.boundAddr = ln.Addr().String()

	s.httpSrv = &http.Server{
		Handler:           s.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.deps.Config.ReadTimeout,
		WriteTimeout:      s.deps.Config.WriteTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
	}()

	s.deps.Logger.Info("http api started", "addr", s.boundAddr)
	if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http serve: %w", err)
	}
	return nil
}

// BoundAddr returns the listening address. Only valid after Start.
func (s *Server) BoundAddr() string { return s.boundAddr }

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }
