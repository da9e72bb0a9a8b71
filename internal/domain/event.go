package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventMessageAppended   EventType = "message.appended"
	EventDispatchStarted   EventType = "dispatch.started"
	EventDispatchCompleted EventType = "dispatch.completed"
	EventDispatchFailed    EventType = "dispatch.failed"
	EventToolCallStarted   EventType = "tool.call.started"
	EventToolCallCompleted EventType = "tool.call.completed"
	EventSessionCleared    EventType = "session.cleared"
	EventSessionReaped     EventType = "session.reaped"
	EventRegistryReloaded  EventType = "registry.reloaded"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	SessionID string          `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventHandler processes a published event.
type EventHandler func(ctx context.Context, event Event)

// EventBus is an in-process publish/subscribe hub.
type EventBus interface {
	Publish(ctx context.Context, event Event)
	Subscribe(eventType EventType, handler EventHandler) (unsubscribe func())
	SubscribeAll(handler EventHandler) (unsubscribe func())
	Close()
}

// NewEvent builds an event, marshalling payload when it is non-nil.
func NewEvent(eventType EventType, sessionID string, payload any) Event {
	var raw json.RawMessage
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			raw = data
		}
	}
	return Event{
		Type:      eventType,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Payload:   raw,
	}
}
