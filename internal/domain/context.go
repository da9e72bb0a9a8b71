package domain

import "context"

type ctxKey string

const (
	sessionCtxKey  ctxKey = "session_id"
	requestCtxKey  ctxKey = "request_id"
	dispatchCtxKey ctxKey = "dispatch_id"
)

// ContextWithSessionID returns a new context carrying the session ID.
func ContextWithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionCtxKey, sessionID)
}

// SessionIDFromContext extracts the session ID from the context.
// Returns empty string if not set.
func SessionIDFromContext(ctx context.Context) string {
	return stringValue(ctx, sessionCtxKey)
}

// ContextWithRequestID tags ctx with the inbound HTTP request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestCtxKey, id)
}

// RequestIDFromContext returns the request ID or "".
func RequestIDFromContext(ctx context.Context) string {
	return stringValue(ctx, requestCtxKey)
}

// ContextWithDispatchID tags ctx with the ID of the dispatch it serves.
func ContextWithDispatchID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, dispatchCtxKey, id)
}

// DispatchIDFromContext returns the dispatch ID or "".
func DispatchIDFromContext(ctx context.Context) string {
	return stringValue(ctx, dispatchCtxKey)
}

func stringValue(ctx context.Context, key ctxKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}
