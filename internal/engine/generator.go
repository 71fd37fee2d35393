package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/converso-ai/orchestration-platform/internal/llm"
	"github.com/converso-ai/orchestration-platform/internal/model"
	"github.com/converso-ai/orchestration-platform/pkg/logger"
)

// summaryMaxWords caps the prose length requested from the summarization
// prompt.
const summaryMaxWords = 200

// recentSummariesInPrompt is how many of the newest summaries get injected
// into the generation prompt.
const recentSummariesInPrompt = 2

// Generator produces bot replies and conversation summaries through the
// configured LLM provider chain.
type Generator struct {
	llm llm.Client
	log *logger.Logger
}

func NewGenerator(client llm.Client, log *logger.Logger) *Generator {
	return &Generator{llm: client, log: log}
}

// Generate builds the prompt for one turn and requests a completion. The
// system prompt is the tenant's, extended with retrieved context and the most
// recent summaries when present. history is the recent message window, oldest
// first; the inbound message goes last.
func (g *Generator) Generate(ctx context.Context, tenant *model.Tenant, conv *model.Conversation, history []llm.ChatMessage, contextBlock, userMessage string) (*llm.CompletionResponse, error) {
	system := tenant.SystemPrompt()
	if contextBlock != "" {
		system += "\n\n" + contextBlock
	}
	if block := formatSummaries(conv.Summaries); block != "" {
		system += "\n\n" + block
	}

	messages := make([]llm.ChatMessage, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, llm.ChatMessage{Role: "user", Content: userMessage})

	return g.llm.Complete(ctx, &llm.CompletionRequest{
		SystemPrompt: system,
		Messages:     messages,
		MaxTokens:    tenant.Config.MaxTokens,
		Temperature:  tenant.Config.Temperature,
	})
}

// Summarize compresses a transcript into a short prose summary.
func (g *Generator) Summarize(ctx context.Context, transcript string) (string, error) {
	prompt := fmt.Sprintf(`Summarize the following customer support conversation in at most %d words.
Capture what the customer wanted, what was resolved, and anything still open.

%s`, summaryMaxWords, transcript)

	resp, err := g.llm.Complete(ctx, &llm.CompletionRequest{
		SystemPrompt: "You are an assistant that writes concise, factual conversation summaries.",
		Messages:     []llm.ChatMessage{{Role: "user", Content: prompt}},
		MaxTokens:    summaryMaxWords * 2,
		Temperature:  0.3,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

// Extraction is structured information pulled from a transcript alongside the
// prose summary.
type Extraction struct {
	KeyTopics        []string          `json:"key_topics"`
	UserPreferences  map[string]string `json:"user_preferences"`
	UnresolvedIssues []string          `json:"unresolved_issues"`
	SentimentTrend   string            `json:"sentiment_trend"`
}

// Extract asks the model for structured facts about a transcript. Malformed
// model output degrades to neutral defaults rather than failing the caller.
func (g *Generator) Extract(ctx context.Context, transcript string) Extraction {
	prompt := fmt.Sprintf(`Analyze the following customer support conversation and respond with ONLY a JSON object, no prose, with these keys:
  "key_topics": list of up to 5 short topic strings
  "user_preferences": object of preference name to value, stated by the customer
  "unresolved_issues": list of issues still open at the end
  "sentiment_trend": one of "improving", "stable", "declining"

%s`, transcript)

	neutral := Extraction{SentimentTrend: "stable"}

	resp, err := g.llm.Complete(ctx, &llm.CompletionRequest{
		SystemPrompt: "You extract structured data from conversations. Respond with valid JSON only.",
		Messages:     []llm.ChatMessage{{Role: "user", Content: prompt}},
		MaxTokens:    512,
		Temperature:  0.1,
	})
	if err != nil {
		g.log.Warn("extraction completion failed, using neutral defaults", zap.Error(err))
		return neutral
	}

	var out Extraction
	if err := json.Unmarshal([]byte(stripCodeFence(resp.Content)), &out); err != nil {
		g.log.Warn("extraction returned malformed JSON, using neutral defaults", zap.Error(err))
		return neutral
	}
	if out.SentimentTrend == "" {
		out.SentimentTrend = "stable"
	}
	return out
}

// stripCodeFence removes a surrounding markdown code fence, which models
// often add around JSON despite instructions.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func formatSummaries(summaries []model.ConversationSummary) string {
	if len(summaries) == 0 {
		return ""
	}
	recent := summaries
	if len(recent) > recentSummariesInPrompt {
		recent = recent[len(recent)-recentSummariesInPrompt:]
	}
	var b strings.Builder
	b.WriteString("## Previous Conversation Summary:\n")
	for _, s := range recent {
		b.WriteString("- ")
		b.WriteString(s.SummaryText)
		b.WriteString("\n")
	}
	return b.String()
}
