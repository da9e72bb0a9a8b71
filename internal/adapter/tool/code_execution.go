package tool

import (
	"context"
	"encoding/json"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"mcpchat/internal/domain"
	"mcpchat/internal/infra/tracer"
)

const maxCodeLength = 64 * 1024

// CodeExecutionTool runs code snippets through a CodeBackend.
type CodeExecutionTool struct {
	backend CodeBackend
	logger  *slog.Logger
}

// NewCodeExecutionTool creates a code execution tool.
func NewCodeExecutionTool(backend CodeBackend, logger *slog.Logger) *CodeExecutionTool {
	return &CodeExecutionTool{backend: backend, logger: logger}
}

func (t *CodeExecutionTool) Name() string        { return "code_execution" }
func (t *CodeExecutionTool) Description() string { return "Execute code in various programming languages" }

// Capabilities implements domain.CapabilityLister.
func (t *CodeExecutionTool) Capabilities() []string { return []string{"execute"} }

func (t *CodeExecutionTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"code": {"type": "string", "description": "Source code to run"},
				"language": {"type": "string", "description": "Programming language of the code"}
			},
			"required": ["code", "language"]
		}`),
	}
}

// DeriveParams treats the whole message as a plain text snippet.
func (t *CodeExecutionTool) DeriveParams(message string) json.RawMessage {
	data, _ := json.Marshal(codeParams{Code: message, Language: "text"})
	return data
}

type codeParams struct {
	Code     string `json:"code"`
	Language string `json:"language"`
}

type codeResult struct {
	Language      string `json:"language"`
	Output        string `json:"output"`
	ExitCode      int    `json:"exitCode"`
	ExecutionTime string `json:"executionTime"`
}

func (t *CodeExecutionTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.code_execution", t.logger, params,
		func(ctx context.Context, span trace.Span, p codeParams) (any, error) {
			if err := ValidateAll(
				RequireField("code", p.Code),
				RequireField("language", p.Language),
				ValidateMaxLength("code", p.Code, maxCodeLength),
			); err != nil {
				return nil, err
			}
			if !t.backend.Supports(p.Language) {
				return nil, invalidf("language %q is not supported by the %s backend", p.Language, t.backend.Name())
			}
			span.SetAttributes(
				tracer.StringAttr("tool.language", p.Language),
				tracer.StringAttr("tool.backend", t.backend.Name()),
			)

			run, err := t.backend.Run(ctx, p.Language, p.Code)
			if err != nil {
				return nil, err
			}
			span.SetAttributes(tracer.IntAttr("tool.exit_code", run.ExitCode))
			t.logger.Debug("code executed", "language", p.Language, "exit_code", run.ExitCode, "duration", run.Duration)

			res := codeResult{
				Language:      run.Language,
				Output:        run.Output,
				ExitCode:      run.ExitCode,
				ExecutionTime: run.Duration.String(),
			}
			if run.ExitCode != 0 {
				data, _ := json.MarshalIndent(res, "", "  ")
				return &domain.ToolResult{Content: string(data), IsError: true}, nil
			}
			return res, nil
		},
	)
}
