// Package mcpserver publishes the tool registry as an MCP server, over stdio
// or streamable HTTP.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"mcpchat/internal/domain"
)

// Registry is the part of the tool registry the server exposes.
type Registry interface {
	List() []domain.ToolDescriptor
	Execute(ctx context.Context, name string, params json.RawMessage) (*domain.ToolResult, error)
}

// Server mirrors the enabled registry tools as MCP tools.
type Server struct {
	mcp      *server.MCPServer
	registry Registry
	logger   *slog.Logger
}

// New builds the MCP server and loads the current tool set.
func New(name, version string, registry Registry, logger *slog.Logger) *Server {
	s := &Server{
		mcp:      server.NewMCPServer(name, version, server.WithToolCapabilities(true), server.WithRecovery()),
		registry: registry,
		logger:   logger,
	}
	s.Refresh()
	return s
}

// Refresh replaces the published tool set with the registry's enabled tools.
// Call it after the registry reloads.
func (s *Server) Refresh() {
	descs := s.registry.List()
	tools := make([]server.ServerTool, 0, len(descs))
	for _, d := range descs {
		if !d.Enabled {
			continue
		}
		tools = append(tools, server.ServerTool{Tool: toMCPTool(d), Handler: s.handler(d.Name)})
	}
	s.mcp.SetTools(tools...)
	s.logger.Debug("mcp server tools refreshed", "tools", len(tools))
}

func toMCPTool(d domain.ToolDescriptor) mcp.Tool {
	schema := d.Parameters
	if len(schema) == 0 || string(schema) == "null" {
		schema = json.RawMessage(`{"type":"object"}`)
	}
	return mcp.NewToolWithRawSchema(d.Name, d.Description, schema)
}

func (s *Server) handler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		params, err := json.Marshal(req.GetArguments())
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("encode arguments: %v", err)), nil
		}
		res, err := s.registry.Execute(ctx, name, params)
		if err != nil {
			s.logger.Debug("mcp tool call failed", "tool", name, "code", domain.ErrorCodeOf(err), "error", err)
			return mcp.NewToolResultError(errorText(err)), nil
		}
		if res.IsError {
			return mcp.NewToolResultError(res.Content), nil
		}
		return mcp.NewToolResultText(res.Content), nil
	}
}

func errorText(err error) string {
	var de *domain.DomainError
	if errors.As(err, &de) && de.Detail != "" {
		return fmt.Sprintf("%s: %s", de.Err, de.Detail)
	}
	return err.Error()
}

// ServeStdio serves MCP over the given reader and writer until ctx ends or
// the input closes.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))
	if err := stdio.Listen(ctx, in, out); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp stdio: %w", err)
	}
	return nil
}

// HTTPHandler returns a streamable HTTP handler mounted at path.
func (s *Server) HTTPHandler(path string) http.Handler {
	return server.NewStreamableHTTPServer(s.mcp,
		server.WithEndpointPath(path),
		server.WithStateLess(true),
	)
}
