// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// TurnsTotal tracks processed conversation turns by outcome
	// (replied, escalated, skipped, failed).
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_turns_total",
			Help: "Total conversation turns processed",
		},
		[]string{"tenant_id", "outcome"},
	)

	// TurnDuration tracks end-to-end turn processing duration.
	TurnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conversation_turn_duration_seconds",
			Help:    "Conversation turn processing duration",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 20, 30, 60},
		},
		[]string{"tenant_id"},
	)

	// EscalationsTotal tracks human handoff escalations by trigger.
	EscalationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_escalations_total",
			Help: "Total conversations escalated to a human agent",
		},
		[]string{"tenant_id", "trigger"},
	)

	// SummariesTotal tracks long-term memory summaries created.
	SummariesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_summaries_total",
			Help: "Total conversation summaries written to long-term memory",
		},
		[]string{"tenant_id"},
	)

	// SentimentScore observes per-message sentiment scores.
	SentimentScore = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "message_sentiment_score",
			Help:    "Sentiment score of inbound messages (-1 to 1)",
			Buckets: []float64{-1, -0.75, -0.5, -0.25, 0, 0.25, 0.5, 0.75, 1},
		},
		[]string{"tenant_id"},
	)

	// LLMCompletionDuration tracks LLM completion duration.
	LLMCompletionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_completion_duration_seconds",
			Help:    "LLM completion duration",
			Buckets: []float64{.5, 1, 2, 5, 10, 20, 30, 45, 60},
		},
		[]string{"model", "status"},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"model", "direction"},
	)

	// RetrievalResults tracks vector index results returned per lookup.
	RetrievalResults = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "retrieval_results_count",
			Help:    "Number of context snippets returned per retrieval",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13},
		},
		[]string{"doc_type"},
	)

	// ConversationsTotal tracks total conversations created.
	ConversationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversations_total",
			Help: "Total conversations created",
		},
		[]string{"tenant_id", "channel"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordTurn records metrics for a processed conversation turn.
func RecordTurn(tenantID, outcome string, duration float64) {
	TurnsTotal.WithLabelValues(tenantID, outcome).Inc()
	TurnDuration.WithLabelValues(tenantID).Observe(duration)
}

// RecordCompletion records metrics for an LLM completion.
func RecordCompletion(model, status string, duration float64, tokensIn, tokensOut int) {
	LLMCompletionDuration.WithLabelValues(model, status).Observe(duration)
	LLMTokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
	LLMTokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
}

// RecordEscalation records a handoff escalation.
func RecordEscalation(tenantID, trigger string) {
	EscalationsTotal.WithLabelValues(tenantID, trigger).Inc()
}
