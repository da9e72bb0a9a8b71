package tool

import (
	"context"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"mcpchat/internal/domain"
	"mcpchat/internal/infra/tracer"
)

// ActionHandler handles one operation of a multi-operation tool.
type ActionHandler[P any] func(ctx context.Context, p P) (any, error)

// ActionMap maps operation names to their handlers.
type ActionMap[P any] map[string]ActionHandler[P]

// Dispatch builds an Execute[P] handler that routes on the operation name
// returned by getAction.
//
//	func (t *FooTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
//	    return Execute(ctx, "tool.foo", t.logger, params,
//	        Dispatch(func(p fooParams) string { return p.Operation }, ActionMap[fooParams]{
//	            "read":  t.read,
//	            "write": t.write,
//	        }),
//	    )
//	}
func Dispatch[P any](
	getAction func(P) string,
	actions ActionMap[P],
) func(ctx context.Context, span trace.Span, p P) (any, error) {
	valid := actionNames(actions)

	return func(ctx context.Context, span trace.Span, p P) (any, error) {
		action := getAction(p)
		span.SetAttributes(tracer.StringAttr("tool.action", action))

		handler, ok := actions[action]
		if !ok {
			return nil, BadAction(action, valid...)
		}
		return handler(ctx, p)
	}
}

func actionNames[P any](actions ActionMap[P]) []string {
	names := make([]string, 0, len(actions))
	for name := range actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TextResult creates a plain text success ToolResult.
func TextResult(s string) *domain.ToolResult {
	return &domain.ToolResult{Content: s}
}

// BadAction reports an unknown operation, listing the valid ones.
func BadAction(got string, valid ...string) error {
	return invalidf("unknown operation %q (want: %s)", got, strings.Join(valid, ", "))
}
