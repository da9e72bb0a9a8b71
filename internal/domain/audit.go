package domain

import (
	"context"
	"encoding/json"
	"time"
)

// AuditEvent is one line of the audit trail.
type AuditEvent struct {
	Timestamp time.Time       `json:"timestamp"`
	Type      EventType       `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Detail    json.RawMessage `json:"detail,omitempty"`
}

// AuditLogger writes audit events to a persistent log.
type AuditLogger interface {
	Log(ctx context.Context, event AuditEvent) error
	Close() error
}
