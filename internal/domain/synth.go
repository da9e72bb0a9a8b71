package domain

import (
	"context"
	"encoding/json"
)

// ToolOutcome is one slot of a dispatch's fan-out: the tool that was asked
// for, the parameters it received and either its result or its error.
type ToolOutcome struct {
	Name    string          `json:"name"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  *ToolResult     `json:"result,omitempty"`
	Err     error           `json:"-"`
	Invoked bool            `json:"invoked"`
}

// Failed reports whether the slot holds an error.
func (o ToolOutcome) Failed() bool {
	return o.Err != nil || (o.Result != nil && o.Result.IsError)
}

// SynthesisInput carries everything a synthesizer may use to build a reply.
type SynthesisInput struct {
	SessionID string
	Message   string
	History   []Message
	Outcomes  []ToolOutcome
}

// Synthesizer turns a user message and gathered tool outcomes into the single
// assistant reply of a dispatch. Errors wrapping ErrTransport mean the
// backend could not be reached.
type Synthesizer interface {
	Synthesize(ctx context.Context, in SynthesisInput) (string, error)
	Name() string
}
