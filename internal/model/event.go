package model

import (
	"time"
)

// EventType represents the type of conversation event on the event log.
type EventType string

const (
	EventTypeEscalation EventType = "escalation"
	EventTypeReply      EventType = "reply"
	EventTypeSummary    EventType = "summary"
	EventTypeResolved   EventType = "resolved"
	EventTypeExpired    EventType = "expired"
)

// ConversationEvent is an audit record published to the event log. Channel
// adapters consume reply events to deliver outbound messages; escalation
// events feed agent tooling.
type ConversationEvent struct {
	ID             string            `json:"id"`
	ConversationID string            `json:"conversation_id"`
	TenantID       string            `json:"tenant_id"`
	UserID         string            `json:"user_id,omitempty"`
	Channel        string            `json:"channel,omitempty"`
	Type           EventType         `json:"type"`
	Reason         string            `json:"reason,omitempty"`
	Content        string            `json:"content,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}
