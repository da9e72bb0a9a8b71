package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.opentelemetry.io/otel/trace"

	"mcpchat/internal/domain"
	"mcpchat/internal/infra/metrics"
	"mcpchat/internal/infra/tracer"
)

// entry is immutable once built; Reload replaces entries, never edits them.
type entry struct {
	tool    domain.Tool
	schema  *jsonschema.Schema // nil = no validation
	enabled bool
}

// Registry holds the named tools in registration order. Reload swaps the
// whole set at once; readers always see either the old or the new set.
type Registry struct {
	mu      sync.RWMutex
	entries []*entry
	index   map[string]*entry

	disabled map[string]bool // fixed at construction
	bus      domain.EventBus
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithEventBus publishes registry.reloaded events on bus.
func WithEventBus(bus domain.EventBus) RegistryOption {
	return func(r *Registry) { r.bus = bus }
}

// WithMetrics records tool calls and registry size.
func WithMetrics(m *metrics.Metrics) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

// WithDisabled keeps the named tools registered but refuses to run them.
// Names that are not registered yet apply whenever a tool of that name
// arrives through Register or Reload.
func WithDisabled(names ...string) RegistryOption {
	return func(r *Registry) {
		for _, n := range names {
			r.disabled[n] = true
		}
	}
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *slog.Logger, opts ...RegistryOption) *Registry {
	r := &Registry{
		index:    make(map[string]*entry),
		disabled: make(map[string]bool),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// newEntry compiles the tool's parameter schema. A schema that fails to
// compile is logged and the tool runs unvalidated.
func (r *Registry) newEntry(t domain.Tool) *entry {
	e := &entry{tool: t, enabled: !r.disabled[t.Name()]}
	schema, err := compileSchema(t)
	if err != nil {
		r.logger.Warn("schema validation disabled for tool", "tool", t.Name(), "error", err)
	} else {
		e.schema = schema
	}
	return e
}

// Register appends a tool. Names must be unique.
func (r *Registry) Register(t domain.Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := t.Name()
	if _, exists := r.index[name]; exists {
		return domain.NewDomainError("Registry.Register", domain.ErrToolDuplicate, name)
	}
	e := r.newEntry(t)
	r.entries = append(r.entries, e)
	r.index[name] = e
	r.metrics.SetRegistrySize(len(r.entries))
	return nil
}

// Reload replaces every registered tool with tools, keeping their order.
// Nothing changes if tools contains a duplicate name.
func (r *Registry) Reload(tools ...domain.Tool) error {
	entries := make([]*entry, 0, len(tools))
	index := make(map[string]*entry, len(tools))

	r.mu.RLock()
	for _, t := range tools {
		if _, dup := index[t.Name()]; dup {
			r.mu.RUnlock()
			return domain.NewDomainError("Registry.Reload", domain.ErrToolDuplicate, t.Name())
		}
		e := r.newEntry(t)
		entries = append(entries, e)
		index[t.Name()] = e
	}
	r.mu.RUnlock()

	r.mu.Lock()
	r.entries = entries
	r.index = index
	r.mu.Unlock()

	r.metrics.SetRegistrySize(len(entries))
	if r.bus != nil {
		r.bus.Publish(context.Background(), domain.NewEvent(domain.EventRegistryReloaded, "", map[string]int{"tools": len(entries)}))
	}
	r.logger.Info("tool registry reloaded", "tools", len(entries))
	return nil
}

func (r *Registry) lookup(op, name string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.index[name]
	enabled := ok && e.enabled
	r.mu.RUnlock()

	if !ok {
		return nil, domain.NewDomainError(op, domain.ErrToolNotFound, name)
	}
	if !enabled {
		return nil, domain.NewDomainError(op, domain.ErrToolDisabled, name)
	}
	return e, nil
}

// Get returns an enabled tool by name.
func (r *Registry) Get(name string) (domain.Tool, error) {
	e, err := r.lookup("Registry.Get", name)
	if err != nil {
		return nil, err
	}
	return e.tool, nil
}

// Describe returns the descriptor of a tool, enabled or not.
func (r *Registry) Describe(name string) (domain.ToolDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.index[name]
	if !ok {
		return domain.ToolDescriptor{}, domain.NewDomainError("Registry.Describe", domain.ErrToolNotFound, name)
	}
	return describe(e), nil
}

// List returns every tool's descriptor in registration order.
func (r *Registry) List() []domain.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.ToolDescriptor, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, describe(e))
	}
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func describe(e *entry) domain.ToolDescriptor {
	d := domain.ToolDescriptor{
		Name:         e.tool.Name(),
		Description:  e.tool.Description(),
		Capabilities: []string{},
		Enabled:      e.enabled,
		Parameters:   e.tool.Schema().Parameters,
	}
	if c, ok := e.tool.(domain.CapabilityLister); ok {
		d.Capabilities = append(d.Capabilities, c.Capabilities()...)
	}
	return d
}

// Execute validates params against the tool's schema and runs it. Errors are
// classed as validation (unknown, disabled, bad params), execution (the
// executor failed or panicked) or transport (backend unreachable, deadline).
func (r *Registry) Execute(ctx context.Context, name string, params json.RawMessage) (*domain.ToolResult, error) {
	const op = "Registry.Execute"

	e, err := r.lookup(op, name)
	if err != nil {
		outcome := metrics.ToolInvalid
		if errors.Is(err, domain.ErrToolNotFound) {
			outcome = metrics.ToolNotFound
		}
		r.metrics.ToolCall(name, outcome, 0)
		return nil, err
	}

	if len(params) == 0 || string(params) == "null" {
		params = json.RawMessage(`{}`)
	}
	if err := validateParams(e.schema, params); err != nil {
		r.metrics.ToolCall(name, metrics.ToolInvalid, 0)
		return nil, domain.NewDomainError(op, domain.ErrInvalidParams, fmt.Sprintf("%s: %v", name, err))
	}

	ctx, span := tracer.StartSpan(ctx, "registry.execute",
		trace.WithAttributes(tracer.StringAttr("tool.name", name)),
	)
	defer span.End()

	start := time.Now()
	res, err := runTool(ctx, e.tool, params)
	elapsed := time.Since(start)

	switch {
	case err != nil:
		tracer.RecordError(span, err)
		r.metrics.ToolCall(name, metrics.ToolError, elapsed)
		r.logger.DebugContext(ctx, "tool call failed", "tool", name, "error", err, "duration", elapsed)
		return nil, err
	case res.IsError:
		r.metrics.ToolCall(name, metrics.ToolResultFail, elapsed)
	default:
		tracer.SetOK(span)
		r.metrics.ToolCall(name, metrics.ToolOK, elapsed)
	}
	return res, nil
}

// runTool calls the executor, turning a panic into an execution error and
// making sure every error carries a class.
func runTool(ctx context.Context, t domain.Tool, params json.RawMessage) (res *domain.ToolResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			res = nil
			err = domain.NewDomainError("Registry.Execute", domain.ErrExecution, fmt.Sprintf("%s panicked: %v", t.Name(), p))
		}
	}()

	res, err = t.Execute(ctx, params)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, domain.ErrTransport) {
			return nil, fmt.Errorf("tool.%s: %w: %w", t.Name(), domain.ErrTransport, err)
		}
		return nil, classify("tool."+t.Name(), err)
	}
	if res == nil {
		res = &domain.ToolResult{}
	}
	return res, nil
}

var _ domain.ToolInvoker = (*Registry)(nil)
