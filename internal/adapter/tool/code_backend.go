package tool

import (
	"context"
	"fmt"
	"time"
)

// CodeBackend abstracts running a snippet of source code.
type CodeBackend interface {
	// Run executes code written in language and returns its combined output.
	Run(ctx context.Context, language, code string) (CodeRun, error)
	// Supports reports whether the backend can run language.
	Supports(language string) bool
	// Name returns the backend identifier (e.g. "local").
	Name() string
}

// CodeRun is the outcome of one snippet execution.
type CodeRun struct {
	Language string        `json:"language"`
	Output   string        `json:"output"`
	ExitCode int           `json:"exitCode"`
	Duration time.Duration `json:"-"`
}

// SimulatedCodeBackend pretends to run code in any language.
type SimulatedCodeBackend struct{}

func (SimulatedCodeBackend) Name() string          { return "simulated" }
func (SimulatedCodeBackend) Supports(string) bool { return true }

func (SimulatedCodeBackend) Run(ctx context.Context, language, _ string) (CodeRun, error) {
	if err := ctx.Err(); err != nil {
		return CodeRun{}, err
	}
	return CodeRun{
		Language: language,
		Output:   fmt.Sprintf("Code execution result for: %s", language),
	}, nil
}
