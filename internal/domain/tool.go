package domain

import (
	"context"
	"encoding/json"
)

// ToolSchema describes a tool's parameter contract as JSON Schema.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolResult is the outcome of executing a tool.
type ToolResult struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// Tool is the capability interface every executor implements. Execute must be
// reentrant: implementations keep no mutable state between calls.
type Tool interface {
	Name() string
	Description() string
	Schema() ToolSchema
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// CapabilityLister is implemented by tools that advertise the operations they
// support (e.g. "read", "write").
type CapabilityLister interface {
	Capabilities() []string
}

// ParamDeriver is implemented by tools that can build default parameters from
// the user's message when a dispatch supplies none.
type ParamDeriver interface {
	DeriveParams(message string) json.RawMessage
}

// ToolDescriptor is the public view of a registered tool.
type ToolDescriptor struct {
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Capabilities []string        `json:"capabilities"`
	Enabled      bool            `json:"enabled"`
	Parameters   json.RawMessage `json:"parameters,omitempty"`
}

// ToolInvoker abstracts the registry for the dispatch coordinator.
type ToolInvoker interface {
	Get(name string) (Tool, error)
	List() []ToolDescriptor
	Execute(ctx context.Context, name string, params json.RawMessage) (*ToolResult, error)
}
