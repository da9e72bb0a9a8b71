package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainErrorFormat(t *testing.T) {
	err := NewDomainError("Registry.Execute", ErrToolNotFound, "foo")
	want := "Registry.Execute: foo: tool not found"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorFormatNoDetail(t *testing.T) {
	err := NewDomainError("Coordinator.Dispatch", ErrDispatchInFlight, "")
	want := "Coordinator.Dispatch: dispatch already in flight"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorAs(t *testing.T) {
	err := fmt.Errorf("outer: %w", NewDomainError("Sandbox.ValidatePath", ErrPathOutsideSandbox, "/etc/passwd"))
	var de *DomainError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "Sandbox.ValidatePath", de.Op)
	assert.ErrorIs(t, err, ErrPathOutsideSandbox)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestErrorCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"nil", nil, CodeUnknown},
		{"unknown", errors.New("boom"), CodeUnknown},
		{"direct", ErrToolNotFound, CodeToolNotFound},
		{"domain error", NewDomainError("op", ErrInvalidParams, "x"), CodeInvalidParams},
		{"specific wins over class", fmt.Errorf("wrap: %w", ErrToolDisabled), CodeToolDisabled},
		{"class only", fmt.Errorf("%w: bad query", ErrValidation), CodeValidation},
		{"transport", fmt.Errorf("mcp: %w", ErrTransport), CodeTransport},
		{"circuit open", ErrCircuitOpen, CodeCircuitOpen},
		{"wrap op", WrapOp("Tool.Execute", ErrExecution), CodeExecution},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorCodeOf(tt.err))
		})
	}
}

func TestDomainErrorCode(t *testing.T) {
	assert.Equal(t, CodeEmptyMessage, NewDomainError("op", ErrEmptyMessage, "").Code())
}

func TestAllSentinelsHaveCodes(t *testing.T) {
	for _, s := range append([]error{ErrValidation, ErrExecution, ErrTransport}, specificSentinels...) {
		code := ErrorCodeOf(s)
		if code == CodeUnknown {
			t.Errorf("sentinel %q has no code", s)
		}
	}
}

func TestWrapOp(t *testing.T) {
	assert.NoError(t, WrapOp("op", nil))

	err := WrapOp("Outer", WrapOp("Inner", ErrToolNotFound))
	assert.Equal(t, "Outer: Inner: tool not found", err.Error())
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestInvalid(t *testing.T) {
	assert.NoError(t, Invalid(nil))

	err := Invalid(errors.New("query is required"))
	assert.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "query is required")

	// Already classed errors are returned unchanged.
	assert.Same(t, ErrInvalidParams, Invalid(ErrInvalidParams))
}

func TestIsValidation(t *testing.T) {
	assert.True(t, IsValidation(ErrEmptyMessage))
	assert.True(t, IsValidation(NewDomainError("Registry.Get", ErrToolNotFound, "x")))
	assert.True(t, IsValidation(ErrToolDisabled))
	assert.False(t, IsValidation(ErrExecution))
	assert.False(t, IsValidation(ErrDispatchInFlight))
}

func TestToolOutcomeFailed(t *testing.T) {
	assert.False(t, ToolOutcome{Result: &ToolResult{Content: "ok"}}.Failed())
	assert.True(t, ToolOutcome{Result: &ToolResult{IsError: true}}.Failed())
	assert.True(t, ToolOutcome{Err: ErrExecution}.Failed())
}
