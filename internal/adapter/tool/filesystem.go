package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"mcpchat/internal/domain"
	"mcpchat/internal/security"
)

const defaultMaxReadSize = 1 << 20

// FilesystemTool provides sandboxed read/write/list/exists operations.
type FilesystemTool struct {
	backend     FilesystemBackend
	sandbox     *security.Sandbox
	maxReadSize int64
	logger      *slog.Logger
}

// NewFilesystemTool creates a sandboxed filesystem tool. maxReadSize <= 0
// uses 1 MiB.
func NewFilesystemTool(backend FilesystemBackend, sandbox *security.Sandbox, maxReadSize int64, logger *slog.Logger) *FilesystemTool {
	if maxReadSize <= 0 {
		maxReadSize = defaultMaxReadSize
	}
	return &FilesystemTool{backend: backend, sandbox: sandbox, maxReadSize: maxReadSize, logger: logger}
}

func (t *FilesystemTool) Name() string { return "filesystem" }
func (t *FilesystemTool) Description() string {
	return "Access and manipulate files on the local filesystem"
}

// Capabilities implements domain.CapabilityLister.
func (t *FilesystemTool) Capabilities() []string {
	return []string{"read", "write", "list", "exists"}
}

func (t *FilesystemTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"operation": {"type": "string", "enum": ["read", "write", "list", "exists"], "description": "The file operation to perform"},
				"path": {"type": "string", "description": "File or directory path; relative paths resolve against the working root"},
				"content": {"type": "string", "description": "Content to write (write only)"}
			},
			"required": ["operation", "path"]
		}`),
	}
}

// DeriveParams lists the first absolute or ./-relative path mentioned in the
// message, or the working root when there is none.
func (t *FilesystemTool) DeriveParams(message string) json.RawMessage {
	path := "."
	for _, field := range strings.Fields(message) {
		field = strings.TrimRight(field, ".,;:!?\"'")
		if strings.HasPrefix(field, "/") || strings.HasPrefix(field, "./") {
			path = field
			break
		}
	}
	data, _ := json.Marshal(filesystemParams{Operation: "list", Path: path})
	return data
}

type filesystemParams struct {
	Operation string `json:"operation"`
	Path      string `json:"path"`
	Content   string `json:"content,omitempty"`
}

func (t *FilesystemTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.filesystem", t.logger, params,
		Dispatch(func(p filesystemParams) string { return p.Operation }, ActionMap[filesystemParams]{
			"read":   t.readFile,
			"write":  t.writeFile,
			"list":   t.listDir,
			"exists": t.exists,
		}),
	)
}

func (t *FilesystemTool) readFile(_ context.Context, p filesystemParams) (any, error) {
	resolved, err := t.sandbox.ValidatePath(p.Path)
	if err != nil {
		return nil, err
	}
	info, err := t.backend.Stat(resolved)
	if err != nil {
		return nil, fsError("read", p.Path, err)
	}
	if info.IsDir() {
		return nil, invalidf("%s is a directory", p.Path)
	}
	if info.Size() > t.maxReadSize {
		return nil, invalidf("%s is %d bytes, over the %d byte read limit", p.Path, info.Size(), t.maxReadSize)
	}

	data, err := t.backend.ReadFile(resolved)
	if err != nil {
		return nil, fsError("read", p.Path, err)
	}
	t.logger.Debug("filesystem read", "path", resolved, "size", len(data))
	return TextResult(string(data)), nil
}

func (t *FilesystemTool) writeFile(_ context.Context, p filesystemParams) (any, error) {
	resolved, err := t.sandbox.ValidatePath(p.Path)
	if err != nil {
		return nil, err
	}
	if err := t.backend.WriteFile(resolved, []byte(p.Content), 0o644); err != nil {
		return nil, fsError("write", p.Path, err)
	}
	t.logger.Debug("filesystem write", "path", resolved, "size", len(p.Content))
	return TextResult(fmt.Sprintf("Wrote %d bytes to %s", len(p.Content), p.Path)), nil
}

func (t *FilesystemTool) listDir(_ context.Context, p filesystemParams) (any, error) {
	resolved, err := t.sandbox.ValidatePath(p.Path)
	if err != nil {
		return nil, err
	}
	entries, err := t.backend.ReadDir(resolved)
	if err != nil {
		return nil, fsError("list", p.Path, err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Directory listing for %s:", displayPath(p.Path))
	if len(entries) == 0 {
		sb.WriteString("\n(empty)")
	}
	for _, e := range entries {
		sb.WriteString("\n" + e.Name())
		if e.IsDir() {
			sb.WriteString("/")
		}
	}
	return TextResult(sb.String()), nil
}

type existsResult struct {
	Path   string `json:"path"`
	Exists bool   `json:"exists"`
	Type   string `json:"type,omitempty"`
}

func (t *FilesystemTool) exists(_ context.Context, p filesystemParams) (any, error) {
	resolved, err := t.sandbox.ValidatePath(p.Path)
	if err != nil {
		return nil, err
	}
	info, err := t.backend.Stat(resolved)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return existsResult{Path: p.Path}, nil
	case err != nil:
		return nil, fsError("stat", p.Path, err)
	case info.IsDir():
		return existsResult{Path: p.Path, Exists: true, Type: "directory"}, nil
	default:
		return existsResult{Path: p.Path, Exists: true, Type: "file"}, nil
	}
}

func displayPath(p string) string {
	if p == "" {
		return "."
	}
	return p
}

func fsError(op, path string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s %s: no such file or directory", op, path)
	}
	return fmt.Errorf("%s %s: %w", op, path, err)
}
