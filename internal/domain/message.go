package domain

import (
	"slices"
	"time"
)

// MessageKind identifies who produced a message.
type MessageKind string

// Message kinds.
const (
	KindUser   MessageKind = "user"
	KindAI     MessageKind = "ai"
	KindSystem MessageKind = "system"
)

// Valid reports whether k is one of the known kinds.
func (k MessageKind) Valid() bool {
	switch k {
	case KindUser, KindAI, KindSystem:
		return true
	}
	return false
}

// Message is a single entry in a session's log. Messages are never mutated
// after they are appended.
type Message struct {
	ID        string      `json:"id"`
	Content   string      `json:"content"`
	Kind      MessageKind `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	SessionID string      `json:"sessionId"`
	ToolsUsed []string    `json:"toolsUsed"`
}

// Clone returns a deep copy so callers cannot reach into a session's log.
func (m Message) Clone() Message {
	m.ToolsUsed = slices.Clone(m.ToolsUsed)
	if m.ToolsUsed == nil {
		m.ToolsUsed = []string{}
	}
	return m
}
