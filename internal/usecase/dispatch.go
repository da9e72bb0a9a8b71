package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"

	"mcpchat/internal/domain"
	"mcpchat/internal/infra/metrics"
	"mcpchat/internal/infra/tracer"
)

// ApologyText is the system message appended when a dispatch fails. The
// diagnostic goes to the session's lastError, never into the chat log.
const ApologyText = "Sorry, I encountered an error while processing your message. Please try again."

const (
	defaultDispatchTimeout    = 30 * time.Second
	defaultMaxConcurrentTools = 4
)

// DispatchRequest is one user submission.
type DispatchRequest struct {
	SessionID string
	Message   string
	// Tools are the requested tool names in selection order.
	Tools []string
	// Params holds per-tool parameters. Tools without an entry derive
	// their own from Message when they can.
	Params map[string]json.RawMessage
}

// DispatchResult describes a dispatch that reached a terminal state.
type DispatchResult struct {
	DispatchID  string
	UserMessage domain.Message
	Reply       domain.Message
	ToolsUsed   []string
	Outcomes    []domain.ToolOutcome
	Success     bool
	// Err is the diagnostic of a Failed dispatch.
	Err error
}

// CoordinatorDeps holds injected dependencies for the coordinator.
type CoordinatorDeps struct {
	Sessions              *SessionStore
	Tools                 domain.ToolInvoker
	Synth                 domain.Synthesizer
	Logger                *slog.Logger
	Bus                   domain.EventBus  // optional
	Metrics               *metrics.Metrics // optional
	Timeout               time.Duration
	FallbackOnToolFailure bool
	MaxConcurrentTools    int
}

// Coordinator runs the Idle -> Dispatching -> Completed|Failed state machine
// for every session.
type Coordinator struct {
	deps CoordinatorDeps
}

// NewCoordinator creates a coordinator with the given dependencies.
func NewCoordinator(deps CoordinatorDeps) *Coordinator {
	if deps.Timeout <= 0 {
		deps.Timeout = defaultDispatchTimeout
	}
	if deps.MaxConcurrentTools <= 0 {
		deps.MaxConcurrentTools = defaultMaxConcurrentTools
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Coordinator{deps: deps}
}

// Dispatch processes one user message. It returns an error only when the
// request is rejected before any state change: an empty message
// (ErrEmptyMessage) or a session that is already dispatching
// (ErrDispatchInFlight). Every accepted request yields a result, with
// Success=false when the dispatch failed.
//
// The caller's cancellation is ignored once the request is accepted; only
// the configured timeout can cut a dispatch short.
func (c *Coordinator) Dispatch(ctx context.Context, req DispatchRequest) (*DispatchResult, error) {
	const op = "Coordinator.Dispatch"

	if strings.TrimSpace(req.SessionID) == "" {
		c.deps.Metrics.DispatchRejected()
		return nil, domain.NewDomainError(op, domain.ErrValidation, "session id is required")
	}
	content := strings.TrimSpace(req.Message)
	if content == "" {
		c.deps.Metrics.DispatchRejected()
		return nil, domain.NewDomainError(op, domain.ErrEmptyMessage, req.SessionID)
	}
	if !c.deps.Sessions.BeginDispatch(req.SessionID) {
		c.deps.Metrics.DispatchRejected()
		return nil, domain.NewDomainError(op, domain.ErrDispatchInFlight, req.SessionID)
	}

	start := time.Now()
	c.deps.Metrics.DispatchStarted()

	dispatchID := ulid.Make().String()
	ctx = context.WithoutCancel(ctx)
	ctx = domain.ContextWithSessionID(ctx, req.SessionID)
	ctx = domain.ContextWithDispatchID(ctx, dispatchID)
	ctx, cancel := context.WithTimeout(ctx, c.deps.Timeout)
	defer cancel()

	ctx, span := tracer.StartSpan(ctx, "dispatch",
		trace.WithAttributes(
			tracer.StringAttr("session.id", req.SessionID),
			tracer.StringsAttr("tools.requested", req.Tools),
		),
	)
	defer span.End()

	c.publish(ctx, domain.EventDispatchStarted, req.SessionID, map[string]any{
		"dispatch_id": dispatchID,
		"tools":       req.Tools,
	})

	res := &DispatchResult{DispatchID: dispatchID}
	res.UserMessage = c.deps.Sessions.Append(req.SessionID, content, domain.KindUser)

	reply, err := c.run(ctx, req, content, res)
	if err != nil {
		c.fail(ctx, req.SessionID, res, err, start)
		tracer.RecordError(span, err)
		return res, nil
	}

	res.Success = true
	res.Reply = c.deps.Sessions.EndDispatch(req.SessionID, reply, domain.KindAI, res.ToolsUsed, "")
	c.deps.Metrics.DispatchFinished(metrics.OutcomeCompleted, time.Since(start))
	c.publish(ctx, domain.EventDispatchCompleted, req.SessionID, map[string]any{
		"dispatch_id": dispatchID,
		"tools_used":  res.ToolsUsed,
	})
	c.deps.Logger.InfoContext(ctx, "dispatch completed",
		"tools_used", res.ToolsUsed,
		"duration", time.Since(start),
	)
	span.SetAttributes(tracer.StringsAttr("tools.used", res.ToolsUsed))
	tracer.SetOK(span)
	return res, nil
}

// run gathers tool outcomes and synthesizes the reply. Any error it returns
// moves the session to Failed.
func (c *Coordinator) run(ctx context.Context, req DispatchRequest, content string, res *DispatchResult) (reply string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = domain.NewDomainError("Coordinator.run", domain.ErrExecution, fmt.Sprintf("panic: %v", r))
		}
	}()

	names := dedupe(req.Tools)
	res.Outcomes = c.invokeAll(ctx, req.SessionID, content, names, req.Params)
	for _, o := range res.Outcomes {
		if o.Invoked {
			res.ToolsUsed = append(res.ToolsUsed, o.Name)
		}
	}
	if res.ToolsUsed == nil {
		res.ToolsUsed = []string{}
	}

	if ctx.Err() != nil {
		return "", deadlineError(ctx)
	}
	if len(names) > 0 && allFailed(res.Outcomes) && !c.deps.FallbackOnToolFailure {
		errs := make([]error, 0, len(res.Outcomes))
		for _, o := range res.Outcomes {
			errs = append(errs, outcomeError(o))
		}
		return "", fmt.Errorf("%w: %w", domain.ErrAllToolsFailed, errors.Join(errs...))
	}

	sctx, span := tracer.StartSpan(ctx, "synth."+c.deps.Synth.Name())
	defer span.End()

	reply, err = c.deps.Synth.Synthesize(sctx, domain.SynthesisInput{
		SessionID: req.SessionID,
		Message:   content,
		History:   c.deps.Sessions.History(req.SessionID),
		Outcomes:  res.Outcomes,
	})
	if err != nil {
		tracer.RecordError(span, err)
		if ctx.Err() != nil {
			return "", deadlineError(ctx)
		}
		if errors.Is(err, domain.ErrTransport) {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", domain.ErrSynthesisFailed, err)
	}
	tracer.SetOK(span)
	return reply, nil
}

func (c *Coordinator) fail(ctx context.Context, sessionID string, res *DispatchResult, err error, start time.Time) {
	res.Success = false
	res.Err = err
	res.Reply = c.deps.Sessions.EndDispatch(sessionID, ApologyText, domain.KindSystem, nil, err.Error())
	c.deps.Metrics.DispatchFinished(metrics.OutcomeFailed, time.Since(start))
	c.publish(ctx, domain.EventDispatchFailed, sessionID, map[string]any{
		"dispatch_id": res.DispatchID,
		"code":        domain.ErrorCodeOf(err),
	})
	c.deps.Logger.WarnContext(ctx, "dispatch failed",
		"code", domain.ErrorCodeOf(err),
		"error", err,
		"duration", time.Since(start),
	)
}

// invokeAll resolves each name against the registry and runs the known tools
// concurrently. The returned slice is indexed like names regardless of
// completion order. When ctx expires first, invokeAll returns without
// waiting and the unfinished slots carry a TransportError; executors still
// running deliver into a buffered channel nobody reads.
func (c *Coordinator) invokeAll(ctx context.Context, sessionID, message string, names []string, params map[string]json.RawMessage) []domain.ToolOutcome {
	type slot struct {
		idx int
		out domain.ToolOutcome
	}

	outcomes := make([]domain.ToolOutcome, len(names))
	started := make([]atomic.Bool, len(names))
	done := make(chan slot, len(names))
	sem := make(chan struct{}, c.deps.MaxConcurrentTools)
	pending := make(map[int]bool, len(names))

	for i, name := range names {
		outcomes[i].Name = name
		tool, err := c.deps.Tools.Get(name)
		if err != nil {
			outcomes[i].Err = err
			continue
		}
		p := paramsFor(tool, params[name], message)
		outcomes[i].Params = p
		pending[i] = true

		go func(idx int, name string, p json.RawMessage) {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				done <- slot{idx, domain.ToolOutcome{Name: name, Params: p, Err: toolDeadline(ctx)}}
				return
			}
			started[idx].Store(true)
			done <- slot{idx, c.invoke(ctx, sessionID, name, p)}
		}(i, name, p)
	}

	for len(pending) > 0 {
		select {
		case s := <-done:
			outcomes[s.idx] = s.out
			delete(pending, s.idx)
		case <-ctx.Done():
			for idx := range pending {
				outcomes[idx].Err = toolDeadline(ctx)
				outcomes[idx].Invoked = started[idx].Load()
				c.deps.Logger.WarnContext(ctx, "tool abandoned at deadline", "tool", names[idx])
			}
			return outcomes
		}
	}
	return outcomes
}

func toolDeadline(ctx context.Context) error {
	return domain.NewDomainError("Coordinator.invoke", domain.ErrTransport, ctx.Err().Error())
}

func (c *Coordinator) invoke(ctx context.Context, sessionID, name string, params json.RawMessage) domain.ToolOutcome {
	c.publish(ctx, domain.EventToolCallStarted, sessionID, map[string]string{"tool": name})

	out := domain.ToolOutcome{Name: name, Params: params}
	out.Result, out.Err = c.deps.Tools.Execute(ctx, name, params)
	out.Invoked = out.Err == nil || !rejectedBeforeRun(out.Err)

	c.publish(ctx, domain.EventToolCallCompleted, sessionID, map[string]any{
		"tool":    name,
		"success": !out.Failed(),
	})
	if out.Err != nil {
		c.deps.Logger.DebugContext(ctx, "tool failed", "tool", name, "error", out.Err)
	}
	return out
}

func (c *Coordinator) publish(ctx context.Context, eventType domain.EventType, sessionID string, payload any) {
	if c.deps.Bus == nil {
		return
	}
	c.deps.Bus.Publish(ctx, domain.NewEvent(eventType, sessionID, payload))
}

// paramsFor picks the explicit parameters, then the tool's own derivation
// from the message, then an empty object.
func paramsFor(tool domain.Tool, explicit json.RawMessage, message string) json.RawMessage {
	if len(explicit) > 0 && string(explicit) != "null" {
		return explicit
	}
	if d, ok := tool.(domain.ParamDeriver); ok {
		if p := d.DeriveParams(message); len(p) > 0 {
			return p
		}
	}
	return json.RawMessage(`{}`)
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

func allFailed(outcomes []domain.ToolOutcome) bool {
	for _, o := range outcomes {
		if !o.Failed() {
			return false
		}
	}
	return true
}

func outcomeError(o domain.ToolOutcome) error {
	if o.Err != nil {
		return fmt.Errorf("%s: %w", o.Name, o.Err)
	}
	return fmt.Errorf("%s: %w: %s", o.Name, domain.ErrExecution, o.Result.Content)
}

// rejectedBeforeRun reports whether the registry refused the call before
// reaching the executor.
func rejectedBeforeRun(err error) bool {
	return errors.Is(err, domain.ErrToolNotFound) ||
		errors.Is(err, domain.ErrToolDisabled) ||
		errors.Is(err, domain.ErrInvalidParams)
}

func deadlineError(ctx context.Context) error {
	return domain.NewDomainError("Coordinator.Dispatch", domain.ErrTransport, ctx.Err().Error())
}
