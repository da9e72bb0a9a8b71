package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"mcpchat/internal/domain"
	"mcpchat/internal/infra/config"
)

const defaultMCPCallTimeout = 30 * time.Second

// MCPBridge connects to remote MCP servers and exposes their tools as
// domain.Tool values named mcp_<server>_<tool>.
type MCPBridge struct {
	mu          sync.RWMutex
	servers     []mcpServerConn
	tools       []domain.Tool
	callTimeout time.Duration
	logger      *slog.Logger
}

type mcpServerConn struct {
	name   string
	client mcpClient
}

// mcpClient is the subset of the mcp-go client the bridge uses.
type mcpClient interface {
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// NewMCPBridge connects every configured server and discovers its tools.
// Discovery fails only when every server fails.
func NewMCPBridge(ctx context.Context, cfg config.MCPConfig, logger *slog.Logger) (*MCPBridge, error) {
	b := &MCPBridge{callTimeout: cfg.CallTimeout, logger: logger}
	if b.callTimeout <= 0 {
		b.callTimeout = defaultMCPCallTimeout
	}

	for _, srv := range cfg.Servers {
		conn, err := connectMCPServer(ctx, srv, logger)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("mcp server %q: %w", srv.Name, err)
		}
		b.servers = append(b.servers, *conn)
	}

	if err := b.Discover(ctx); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

func newMCPBridgeWithClients(ctx context.Context, servers []mcpServerConn, callTimeout time.Duration, logger *slog.Logger) (*MCPBridge, error) {
	b := &MCPBridge{servers: servers, callTimeout: callTimeout, logger: logger}
	if b.callTimeout <= 0 {
		b.callTimeout = defaultMCPCallTimeout
	}
	if err := b.Discover(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

func connectMCPServer(ctx context.Context, srv config.MCPServer, logger *slog.Logger) (*mcpServerConn, error) {
	var c *mcpclient.Client
	var err error

	switch srv.Transport {
	case "stdio":
		c, err = mcpclient.NewStdioMCPClient(srv.Command, envSlice(srv.Env), srv.Args...)
		if err != nil {
			return nil, fmt.Errorf("create stdio client: %w", err)
		}
	case "http":
		var opts []transport.StreamableHTTPCOption
		if len(srv.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(srv.Headers))
		}
		t, tErr := transport.NewStreamableHTTP(srv.URL, opts...)
		if tErr != nil {
			return nil, fmt.Errorf("create http transport: %w", tErr)
		}
		c = mcpclient.NewClient(t)
		if err = c.Start(ctx); err != nil {
			return nil, fmt.Errorf("start http client: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported transport %q", srv.Transport)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "mcpchat", Version: "1.0.0"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		c.Close()
		return nil, domain.WrapOp("initialize", err)
	}

	logger.Info("mcp server connected", "name", srv.Name, "transport", srv.Transport)
	return &mcpServerConn{name: srv.Name, client: c}, nil
}

// Discover lists the tools of every connected server and replaces the
// bridged tool set. Servers that fail are skipped and keep no tools.
func (b *MCPBridge) Discover(ctx context.Context) error {
	var (
		tools []domain.Tool
		errs  []string
		ok    int
	)
	for _, srv := range b.servers {
		result, err := srv.client.ListTools(ctx, mcp.ListToolsRequest{})
		if err != nil {
			b.logger.Warn("mcp server discovery failed, skipping", "server", srv.name, "error", err)
			errs = append(errs, fmt.Sprintf("%s: %v", srv.name, err))
			continue
		}
		for _, t := range result.Tools {
			a := newMCPToolAdapter(srv.name, srv.client, t, b.callTimeout, b.logger)
			tools = append(tools, a)
			b.logger.Debug("mcp tool discovered", "server", srv.name, "tool", t.Name, "full_name", a.Name())
		}
		b.logger.Info("mcp tools discovered", "server", srv.name, "count", len(result.Tools))
		ok++
	}
	if ok == 0 && len(errs) > 0 {
		return fmt.Errorf("all mcp servers failed discovery: %s", strings.Join(errs, "; "))
	}

	b.mu.Lock()
	b.tools = tools
	b.mu.Unlock()
	return nil
}

// Tools returns the currently bridged tools.
func (b *MCPBridge) Tools() []domain.Tool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]domain.Tool(nil), b.tools...)
}

// Close shuts down all server connections.
func (b *MCPBridge) Close() {
	for _, srv := range b.servers {
		if err := srv.client.Close(); err != nil {
			b.logger.Warn("mcp server close error", "server", srv.name, "error", err)
		}
	}
}

// mcpToolAdapter exposes one remote MCP tool as a domain.Tool.
type mcpToolAdapter struct {
	serverName string
	client     mcpClient
	mcpTool    mcp.Tool
	fullName   string
	timeout    time.Duration
	logger     *slog.Logger
}

func newMCPToolAdapter(serverName string, client mcpClient, t mcp.Tool, timeout time.Duration, logger *slog.Logger) *mcpToolAdapter {
	return &mcpToolAdapter{
		serverName: serverName,
		client:     client,
		mcpTool:    t,
		fullName:   fmt.Sprintf("mcp_%s_%s", sanitizeName(serverName), sanitizeName(t.Name)),
		timeout:    timeout,
		logger:     logger,
	}
}

func (a *mcpToolAdapter) Name() string { return a.fullName }

func (a *mcpToolAdapter) Description() string {
	if a.mcpTool.Description != "" {
		return a.mcpTool.Description
	}
	return fmt.Sprintf("MCP tool %q from server %q", a.mcpTool.Name, a.serverName)
}

// Capabilities implements domain.CapabilityLister.
func (a *mcpToolAdapter) Capabilities() []string { return []string{"mcp:" + a.serverName} }

func (a *mcpToolAdapter) Schema() domain.ToolSchema {
	params := json.RawMessage(`{"type": "object"}`)
	if a.mcpTool.InputSchema.Properties != nil || a.mcpTool.InputSchema.Required != nil {
		if data, err := json.Marshal(a.mcpTool.InputSchema); err == nil {
			params = data
		}
	}
	return domain.ToolSchema{Name: a.fullName, Description: a.Description(), Parameters: params}
}

func (a *mcpToolAdapter) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	var args map[string]any
	if len(params) > 0 && string(params) != "null" {
		if err := json.Unmarshal(params, &args); err != nil {
			return nil, domain.NewDomainError(a.fullName, domain.ErrInvalidParams, err.Error())
		}
	}

	callReq := mcp.CallToolRequest{}
	callReq.Params.Name = a.mcpTool.Name
	callReq.Params.Arguments = args

	a.logger.Debug("mcp tool call", "server", a.serverName, "tool", a.mcpTool.Name)

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	result, err := a.client.CallTool(callCtx, callReq)
	if err != nil {
		// Any failure talking to the remote server is a transport problem.
		if errors.Is(err, domain.ErrValidation) || errors.Is(err, domain.ErrExecution) {
			return nil, err
		}
		return nil, fmt.Errorf("mcp %s/%s: %w: %w", a.serverName, a.mcpTool.Name, domain.ErrTransport, err)
	}
	return &domain.ToolResult{Content: extractMCPContent(result), IsError: result.IsError}, nil
}

// extractMCPContent flattens MCP content blocks into text. Non-text blocks
// are JSON-encoded.
func extractMCPContent(result *mcp.CallToolResult) string {
	var parts []string
	for _, c := range result.Content {
		switch v := c.(type) {
		case mcp.TextContent:
			parts = append(parts, v.Text)
		case *mcp.TextContent:
			parts = append(parts, v.Text)
		default:
			if data, err := json.Marshal(v); err == nil {
				parts = append(parts, string(data))
			}
		}
	}
	return strings.Join(parts, "\n")
}

// sanitizeName replaces characters that aren't valid in tool names.
func sanitizeName(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func envSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
