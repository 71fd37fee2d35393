package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/converso-ai/orchestration-platform/internal/llm"
	"github.com/converso-ai/orchestration-platform/internal/model"
	"github.com/converso-ai/orchestration-platform/internal/storage"
	"github.com/converso-ai/orchestration-platform/internal/vector"
	"github.com/converso-ai/orchestration-platform/pkg/logger"
	"github.com/converso-ai/orchestration-platform/pkg/metrics"
)

// MemoryManager owns the two memory tiers of a conversation: the short-term
// context window read from storage and the long-term summaries written to the
// conversation and the vector index.
type MemoryManager struct {
	store     storage.Store
	index     vector.Index
	generator *Generator

	windowSize       int
	summaryThreshold int

	log *logger.Logger
}

func NewMemoryManager(store storage.Store, index vector.Index, generator *Generator, windowSize, summaryThreshold int, log *logger.Logger) *MemoryManager {
	return &MemoryManager{
		store:            store,
		index:            index,
		generator:        generator,
		windowSize:       windowSize,
		summaryThreshold: summaryThreshold,
		log:              log,
	}
}

// ContextWindow returns the most recent messages of a conversation as chat
// messages, oldest first, bounded by the configured window size.
func (m *MemoryManager) ContextWindow(ctx context.Context, conversationID string) ([]llm.ChatMessage, error) {
	msgs, err := m.store.GetRecentMessages(ctx, conversationID, m.windowSize)
	if err != nil {
		return nil, fmt.Errorf("load context window: %w", err)
	}
	window := make([]llm.ChatMessage, 0, len(msgs))
	for i := range msgs {
		window = append(window, llm.ChatMessage{
			Role:    msgs[i].Role(),
			Content: msgs[i].Content,
		})
	}
	return window, nil
}

// ShouldSummarize reports whether enough unsummarized messages have
// accumulated to warrant a new summary.
func (m *MemoryManager) ShouldSummarize(conv *model.Conversation) bool {
	return conv.MessageCount-conv.LastSummaryEnd() >= m.summaryThreshold
}

// Summarize compresses the unsummarized message range into a new summary,
// appends it to the conversation, and indexes it as a retrievable memory.
// The summary boundary only advances when every step succeeds, so a failed
// attempt is retried naturally on a later turn. The caller persists conv.
func (m *MemoryManager) Summarize(ctx context.Context, conv *model.Conversation) (*model.ConversationSummary, error) {
	start := conv.LastSummaryEnd()
	end := conv.MessageCount
	if end-start < m.summaryThreshold {
		return nil, nil
	}

	all, err := m.store.GetMessages(ctx, conv.ID, 0, "")
	if err != nil {
		return nil, fmt.Errorf("load messages for summary: %w", err)
	}
	if end > len(all) {
		end = len(all)
	}
	if start >= end {
		return nil, nil
	}

	transcript := formatTranscript(all[start:end])

	text, err := m.generator.Summarize(ctx, transcript)
	if err != nil {
		return nil, fmt.Errorf("summarize conversation: %w", err)
	}
	extracted := m.generator.Extract(ctx, transcript)

	summary := model.ConversationSummary{
		SummaryText:      text,
		KeyTopics:        extracted.KeyTopics,
		UserPreferences:  extracted.UserPreferences,
		UnresolvedIssues: extracted.UnresolvedIssues,
		SentimentTrend:   extracted.SentimentTrend,
		Start:            start,
		End:              end,
		CreatedAt:        time.Now().UTC(),
	}

	_, err = m.index.Upsert(ctx, []string{text}, conv.TenantID, vector.DocTypeMemory,
		[]map[string]string{{
			"user_id":         conv.UserID,
			"conversation_id": conv.ID,
		}})
	if err != nil {
		return nil, fmt.Errorf("index summary: %w", err)
	}

	conv.Summaries = append(conv.Summaries, summary)
	metrics.SummariesTotal.WithLabelValues(conv.TenantID).Inc()
	return &summary, nil
}

func formatTranscript(msgs []model.Message) string {
	var b strings.Builder
	for i := range msgs {
		if msgs[i].Direction == model.DirectionOutbound {
			b.WriteString("Assistant: ")
		} else {
			b.WriteString("User: ")
		}
		b.WriteString(msgs[i].Content)
		b.WriteString("\n")
	}
	return b.String()
}
