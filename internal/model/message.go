package model

import (
	"time"
)

// Direction indicates whether a message came from the user or went to them.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// MessageMetadata carries per-turn processing details for audit. Inbound
// messages keep the sender details the channel adapter passed along; outbound
// messages record how the reply was produced.
type MessageMetadata struct {
	UserName         string            `json:"user_name,omitempty"`
	ChannelMeta      map[string]string `json:"channel_meta,omitempty"`
	Model            string            `json:"model,omitempty"`
	TokensIn         int               `json:"tokens_in,omitempty"`
	TokensOut        int               `json:"tokens_out,omitempty"`
	LatencyMs        int64             `json:"latency_ms,omitempty"`
	ProcessingTimeMs int64             `json:"processing_time_ms,omitempty"`
	SentimentScore   *float64          `json:"sentiment_score,omitempty"`
	SentimentLabel   string            `json:"sentiment_label,omitempty"`
	KnowledgeSources []string          `json:"knowledge_sources,omitempty"`
}

// Message is a single conversation message. Immutable once created.
type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	TenantID       string `json:"tenant_id"`

	Content   string    `json:"content"`
	Direction Direction `json:"direction"`
	Channel   string    `json:"channel"`
	UserID    string    `json:"user_id"`

	FromBot   bool `json:"from_bot"`
	FromAgent bool `json:"from_agent"`

	CreatedAt time.Time `json:"created_at"`

	Metadata MessageMetadata `json:"metadata,omitempty"`
}

// Role returns the chat role for prompt assembly.
func (m *Message) Role() string {
	if m.Direction == DirectionOutbound {
		return "assistant"
	}
	return "user"
}

// TurnRequest is a normalized inbound message from a channel adapter.
type TurnRequest struct {
	UserID   string            `json:"user_id"`
	Channel  string            `json:"channel"`
	Content  string            `json:"content"`
	UserName string            `json:"user_name,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// TurnResponse is the outcome of one orchestration turn.
type TurnResponse struct {
	ConversationID string `json:"conversation_id"`
	Reply          string `json:"reply,omitempty"`
	Escalated      bool   `json:"escalated"`
	EscalationInfo string `json:"escalation_reason,omitempty"`
	Skipped        bool   `json:"skipped,omitempty"`
}

// ListMessagesResponse is the response for listing messages.
type ListMessagesResponse struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"has_more"`
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
	Total         int            `json:"total"`
	HasMore       bool           `json:"has_more"`
}
