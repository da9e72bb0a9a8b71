package tool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// interpreters maps a language name to the command and flag that evaluate an
// inline program.
var interpreters = map[string][2]string{
	"python":     {"python3", "-c"},
	"javascript": {"node", "-e"},
	"bash":       {"bash", "-c"},
	"sh":         {"sh", "-c"},
	"ruby":       {"ruby", "-e"},
}

// LocalCodeBackend runs snippets through interpreters installed on the host.
type LocalCodeBackend struct {
	languages map[string]bool
	workDir   string
	timeout   time.Duration
	maxOutput int
}

// NewLocalCodeBackend allows the given languages (those without a known
// interpreter are ignored). Snippets run in workDir.
func NewLocalCodeBackend(languages []string, workDir string, timeout time.Duration, maxOutput int) *LocalCodeBackend {
	allowed := make(map[string]bool, len(languages))
	for _, l := range languages {
		if _, ok := interpreters[l]; ok {
			allowed[l] = true
		}
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if maxOutput <= 0 {
		maxOutput = 64 * 1024
	}
	return &LocalCodeBackend{languages: allowed, workDir: workDir, timeout: timeout, maxOutput: maxOutput}
}

func (b *LocalCodeBackend) Name() string { return "local" }

func (b *LocalCodeBackend) Supports(language string) bool { return b.languages[language] }

func (b *LocalCodeBackend) Run(ctx context.Context, language, code string) (CodeRun, error) {
	interp, ok := interpreters[language]
	if !ok || !b.languages[language] {
		return CodeRun{}, fmt.Errorf("language %q is not enabled", language)
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, interp[0], interp[1], code)
	cmd.Dir = b.workDir
	out := &cappedBuffer{max: b.maxOutput}
	cmd.Stdout = out
	cmd.Stderr = out

	start := time.Now()
	err := cmd.Run()
	run := CodeRun{Language: language, Output: out.String(), Duration: time.Since(start)}

	if ctx.Err() != nil {
		return run, fmt.Errorf("%s snippet: %w", language, ctx.Err())
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// A non-zero exit is the snippet's own result, not a backend fault.
		run.ExitCode = exitErr.ExitCode()
		return run, nil
	}
	if err != nil {
		return run, fmt.Errorf("start %s: %w", interp[0], err)
	}
	return run, nil
}

// cappedBuffer keeps the first max bytes written and drops the rest.
type cappedBuffer struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	if room := c.max - c.buf.Len(); room > 0 {
		if len(p) > room {
			c.buf.Write(p[:room])
			c.truncated = true
		} else {
			c.buf.Write(p)
		}
	} else if len(p) > 0 {
		c.truncated = true
	}
	return len(p), nil
}

func (c *cappedBuffer) String() string {
	if c.truncated {
		return c.buf.String() + "\n[output truncated]"
	}
	return c.buf.String()
}
