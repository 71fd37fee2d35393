package model

import (
	"time"
)

// ConversationStatus represents the lifecycle state of a conversation.
type ConversationStatus string

const (
	StatusActive         ConversationStatus = "active"          // bot is handling
	StatusHandoffPending ConversationStatus = "handoff_pending" // waiting for a human agent
	StatusHandoffActive  ConversationStatus = "handoff_active"  // human agent is handling
	StatusResolved       ConversationStatus = "resolved"        // conversation ended
	StatusExpired        ConversationStatus = "expired"         // session timeout
)

// InHandoff reports whether a human owns (or is about to own) the conversation.
// The engine never generates a bot reply in either handoff state.
func (s ConversationStatus) InHandoff() bool {
	return s == StatusHandoffPending || s == StatusHandoffActive
}

// sentimentHistorySize bounds the per-conversation sentiment sample window.
const sentimentHistorySize = 10

// Conversation is the unit of orchestration state. It is owned exclusively by
// the orchestrator, mutated only within a single turn, and persisted once per
// turn as a consistent snapshot.
type Conversation struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id"`
	Channel  string `json:"channel"`

	Status ConversationStatus `json:"status"`

	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	LastMessageAt     *time.Time `json:"last_message_at,omitempty"`
	LastUserMessageAt *time.Time `json:"last_user_message_at,omitempty"`

	// Counters. Invariant: BotMessageCount + UserMessageCount == MessageCount.
	MessageCount     int `json:"message_count"`
	UserMessageCount int `json:"user_message_count"`
	BotMessageCount  int `json:"bot_message_count"`
	FallbackCount    int `json:"fallback_count"`

	// Sentiment tracking: bounded history of the most recent scores plus a
	// recency-weighted average derived from it.
	AverageSentiment float64   `json:"average_sentiment"`
	SentimentHistory []float64 `json:"sentiment_history,omitempty"`

	// Long-term memory. Ordered by increasing covered range; ranges never
	// overlap.
	Summaries []ConversationSummary `json:"summaries,omitempty"`

	// Handoff
	HandoffReason   string `json:"handoff_reason,omitempty"`
	AssignedAgentID string `json:"assigned_agent_id,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// UpdateSentiment appends a score to the bounded history and recomputes the
// linearly recency-weighted average: weight i for the i-th oldest of up to
// sentimentHistorySize samples, normalized by the sum of weights.
func (c *Conversation) UpdateSentiment(score float64) {
	c.SentimentHistory = append(c.SentimentHistory, score)
	if len(c.SentimentHistory) > sentimentHistorySize {
		c.SentimentHistory = c.SentimentHistory[len(c.SentimentHistory)-sentimentHistorySize:]
	}

	var weightedSum, totalWeight float64
	for i, s := range c.SentimentHistory {
		w := float64(i + 1)
		weightedSum += s * w
		totalWeight += w
	}
	c.AverageSentiment = weightedSum / totalWeight
}

// RecentSentiment returns up to the last n sentiment samples, oldest first.
func (c *Conversation) RecentSentiment(n int) []float64 {
	if n <= 0 || len(c.SentimentHistory) == 0 {
		return nil
	}
	if n > len(c.SentimentHistory) {
		n = len(c.SentimentHistory)
	}
	return c.SentimentHistory[len(c.SentimentHistory)-n:]
}

// IncrementFallback increments the consecutive-fallback counter and returns
// the new count.
func (c *Conversation) IncrementFallback() int {
	c.FallbackCount++
	return c.FallbackCount
}

// ResetFallbacks clears the consecutive-fallback counter after a successful
// reply.
func (c *Conversation) ResetFallbacks() {
	c.FallbackCount = 0
}

// LastSummaryEnd returns the exclusive end of the most recent summary's
// covered message range, or 0 when nothing has been summarized.
func (c *Conversation) LastSummaryEnd() int {
	if len(c.Summaries) == 0 {
		return 0
	}
	return c.Summaries[len(c.Summaries)-1].End
}

// IsWithinSessionWindow reports whether the last user message falls inside
// the tenant's session window. A conversation with no user messages yet is
// measured from its creation time.
func (c *Conversation) IsWithinSessionWindow(window time.Duration, now time.Time) bool {
	last := c.CreatedAt
	if c.LastUserMessageAt != nil {
		last = *c.LastUserMessageAt
	}
	return now.Sub(last) < window
}
