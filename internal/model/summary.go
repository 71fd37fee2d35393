package model

import (
	"time"
)

// ConversationSummary is a compressed memory unit covering the half-open
// message-index range [Start, End) of its conversation.
type ConversationSummary struct {
	SummaryText      string            `json:"summary_text"`
	KeyTopics        []string          `json:"key_topics,omitempty"`
	UserPreferences  map[string]string `json:"user_preferences,omitempty"`
	UnresolvedIssues []string          `json:"unresolved_issues,omitempty"`
	SentimentTrend   string            `json:"sentiment_trend"`
	Start            int               `json:"start"`
	End              int               `json:"end"`
	CreatedAt        time.Time         `json:"created_at"`
}
