package httpapi

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpchat/internal/adapter/synth"
	"mcpchat/internal/adapter/tool"
	"mcpchat/internal/domain"
	"mcpchat/internal/security"
	"mcpchat/internal/usecase"
)

// newFilesystemFixture serves /api over the real registry, filesystem tool,
// template synthesizer and coordinator, sandboxed to dir.
func newFilesystemFixture(t *testing.T, dir string) *fixture {
	t.Helper()
	sandbox, err := security.NewSandbox(dir)
	require.NoError(t, err)

	return newFixture(t, synth.NewTemplate(), func(d *Deps) {
		reg := tool.NewRegistry(d.Logger)
		require.NoError(t, reg.Register(tool.NewFilesystemTool(tool.NewLocalFilesystemBackend(), sandbox, 0, d.Logger)))
		d.Registry = reg
		d.Dispatcher = usecase.NewCoordinator(usecase.CoordinatorDeps{
			Sessions: d.Sessions,
			Tools:    reg,
			Synth:    synth.NewTemplate(),
			Logger:   d.Logger,
			Timeout:  5 * time.Second,
		})
	})
}

func chatBody(t *testing.T, message string, params map[string]any) string {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"message":        message,
		"sessionId":      "fs-session",
		"useMcp":         true,
		"mcpTools":       []string{"filesystem"},
		"toolParameters": map[string]any{"filesystem": params},
	})
	require.NoError(t, err)
	return string(data)
}

func TestChatListsDirectoryWithFilesystemTool(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "reports"), 0o755))
	f := newFilesystemFixture(t, dir)

	resp := f.do(t, http.MethodPost, "/api/chat", chatBody(t, "list files", map[string]any{"operation": "list", "path": dir}))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[chatResponse](t, resp)

	assert.True(t, got.Success)
	assert.Equal(t, []string{"filesystem"}, got.MCPToolsUsed)
	assert.Contains(t, got.AIResponse, "Directory listing for "+dir)
	assert.Contains(t, got.AIResponse, "notes.txt")
	assert.Contains(t, got.AIResponse, "reports/")

	hist := f.sessions.History("fs-session")
	require.Len(t, hist, 2)
	assert.Equal(t, domain.KindAI, hist[1].Kind)
	assert.Equal(t, []string{"filesystem"}, hist[1].ToolsUsed)
	assert.False(t, f.sessions.Snapshot("fs-session").Loading)
}

func TestChatReadsFileWithFilesystemTool(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "todo.txt")
	require.NoError(t, os.WriteFile(path, []byte("remember the milk"), 0o644))
	f := newFilesystemFixture(t, dir)

	got := decode[chatResponse](t, f.do(t, http.MethodPost, "/api/chat",
		chatBody(t, "read my todo", map[string]any{"operation": "read", "path": path})))

	assert.True(t, got.Success)
	assert.Equal(t, []string{"filesystem"}, got.MCPToolsUsed)
	assert.Contains(t, got.AIResponse, "remember the milk")
	assert.Empty(t, f.sessions.Snapshot("fs-session").LastError)
}
