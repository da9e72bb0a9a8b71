package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpchat/internal/domain"
)

type mockMCPClient struct {
	tools    []mcp.Tool
	listErr  error
	callFunc func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	closed   bool
}

func (m *mockMCPClient) ListTools(context.Context, mcp.ListToolsRequest) (*mcp.ListToolsResult, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return &mcp.ListToolsResult{Tools: m.tools}, nil
}

func (m *mockMCPClient) CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if m.callFunc != nil {
		return m.callFunc(ctx, req)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(fmt.Sprintf("called %s", req.Params.Name))},
	}, nil
}

func (m *mockMCPClient) Close() error {
	m.closed = true
	return nil
}

func TestMCPBridgeDiscoversAndNamesTools(t *testing.T) {
	mock := &mockMCPClient{tools: []mcp.Tool{
		{Name: "read_file", Description: "Read a file"},
		{Name: "get-weather"},
	}}
	bridge, err := newMCPBridgeWithClients(context.Background(), []mcpServerConn{{name: "my.server", client: mock}}, 0, newTestLogger())
	require.NoError(t, err)

	tools := bridge.Tools()
	require.Len(t, tools, 2)
	assert.Equal(t, "mcp_my_server_read_file", tools[0].Name())
	assert.Equal(t, "Read a file", tools[0].Description())
	assert.Equal(t, "mcp_my_server_get_weather", tools[1].Name())
	assert.Contains(t, tools[1].Description(), `"get-weather"`)
	assert.Equal(t, []string{"mcp:my.server"}, tools[0].(domain.CapabilityLister).Capabilities())
	assert.JSONEq(t, `{"type":"object"}`, string(tools[0].Schema().Parameters))

	bridge.Close()
	assert.True(t, mock.closed)
}

func TestMCPBridgePartialDiscoveryFailure(t *testing.T) {
	good := &mockMCPClient{tools: []mcp.Tool{{Name: "ping"}}}
	bad := &mockMCPClient{listErr: errors.New("unreachable")}
	bridge, err := newMCPBridgeWithClients(context.Background(), []mcpServerConn{
		{name: "bad", client: bad},
		{name: "good", client: good},
	}, 0, newTestLogger())
	require.NoError(t, err)
	require.Len(t, bridge.Tools(), 1)
	assert.Equal(t, "mcp_good_ping", bridge.Tools()[0].Name())
}

func TestMCPBridgeAllServersFail(t *testing.T) {
	_, err := newMCPBridgeWithClients(context.Background(), []mcpServerConn{
		{name: "a", client: &mockMCPClient{listErr: errors.New("down")}},
	}, 0, newTestLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all mcp servers failed discovery")
}

func TestMCPBridgeRediscoverReplacesTools(t *testing.T) {
	mock := &mockMCPClient{tools: []mcp.Tool{{Name: "one"}}}
	bridge, err := newMCPBridgeWithClients(context.Background(), []mcpServerConn{{name: "s", client: mock}}, 0, newTestLogger())
	require.NoError(t, err)

	mock.tools = []mcp.Tool{{Name: "two"}, {Name: "three"}}
	require.NoError(t, bridge.Discover(context.Background()))
	tools := bridge.Tools()
	require.Len(t, tools, 2)
	assert.Equal(t, "mcp_s_two", tools[0].Name())
}

func TestMCPToolExecute(t *testing.T) {
	var gotArgs any
	mock := &mockMCPClient{
		tools: []mcp.Tool{{Name: "echo"}},
		callFunc: func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			gotArgs = req.Params.Arguments
			return &mcp.CallToolResult{
				Content: []mcp.Content{mcp.NewTextContent("line 1"), mcp.NewTextContent("line 2")},
			}, nil
		},
	}
	bridge, err := newMCPBridgeWithClients(context.Background(), []mcpServerConn{{name: "s", client: mock}}, 0, newTestLogger())
	require.NoError(t, err)

	res, err := bridge.Tools()[0].Execute(context.Background(), json.RawMessage(`{"text":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, "line 1\nline 2", res.Content)
	assert.False(t, res.IsError)
	assert.Equal(t, map[string]any{"text": "hi"}, gotArgs)
}

func TestMCPToolExecuteRemoteErrorResult(t *testing.T) {
	mock := &mockMCPClient{
		tools: []mcp.Tool{{Name: "x"}},
		callFunc: func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return &mcp.CallToolResult{IsError: true, Content: []mcp.Content{mcp.NewTextContent("nope")}}, nil
		},
	}
	bridge, err := newMCPBridgeWithClients(context.Background(), []mcpServerConn{{name: "s", client: mock}}, 0, newTestLogger())
	require.NoError(t, err)

	res, err := bridge.Tools()[0].Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "nope", res.Content)
}

func TestMCPToolExecuteCallFailureIsTransport(t *testing.T) {
	mock := &mockMCPClient{
		tools: []mcp.Tool{{Name: "slow"}},
		callFunc: func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	bridge, err := newMCPBridgeWithClients(context.Background(), []mcpServerConn{{name: "s", client: mock}}, 20*time.Millisecond, newTestLogger())
	require.NoError(t, err)

	_, err = bridge.Tools()[0].Execute(context.Background(), json.RawMessage(`{}`))
	assert.ErrorIs(t, err, domain.ErrTransport)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMCPToolExecuteBadArgs(t *testing.T) {
	bridge, err := newMCPBridgeWithClients(context.Background(), []mcpServerConn{
		{name: "s", client: &mockMCPClient{tools: []mcp.Tool{{Name: "x"}}}},
	}, 0, newTestLogger())
	require.NoError(t, err)

	_, err = bridge.Tools()[0].Execute(context.Background(), json.RawMessage(`[1]`))
	assert.ErrorIs(t, err, domain.ErrInvalidParams)
}
