package engine

import (
	"fmt"
	"strings"

	"github.com/converso-ai/orchestration-platform/internal/model"
	"github.com/converso-ai/orchestration-platform/internal/sentiment"
)

// Trigger identifies which escalation check fired.
type Trigger string

const (
	TriggerExplicitRequest   Trigger = "explicit_request"
	TriggerNegativeSentiment Trigger = "negative_sentiment"
	TriggerMaxFallbacks      Trigger = "max_fallbacks"
	TriggerLoopDetected      Trigger = "loop_detected"
)

// EscalationDecision is the outcome of evaluating a single inbound message.
// A decision is data, not an error: the caller inspects Should and routes the
// conversation accordingly.
type EscalationDecision struct {
	Should     bool
	Trigger    Trigger
	Confidence float64
	Reason     string
	Matched    string
}

// sustainedWindow is how many recent sentiment samples the sustained check
// averages over.
const sustainedWindow = 3

// Evaluator runs the ordered escalation checks for inbound messages. Checks
// short-circuit: the first one that fires wins and later checks never run.
type Evaluator struct {
	sentimentThreshold float64
	maxFallbacks       int
}

func NewEvaluator(sentimentThreshold float64, maxFallbacks int) *Evaluator {
	return &Evaluator{
		sentimentThreshold: sentimentThreshold,
		maxFallbacks:       maxFallbacks,
	}
}

// Evaluate checks, in order: explicit handoff keywords, negative sentiment,
// fallback exhaustion, and loop detection. sent may be nil when sentiment
// analysis is disabled or failed for this turn; the sentiment check is then
// skipped entirely.
func (e *Evaluator) Evaluate(message string, conv *model.Conversation, tenant *model.Tenant, sent *sentiment.Result) EscalationDecision {
	if !tenant.Config.EnableAutoHandoff {
		return EscalationDecision{}
	}

	if d := e.checkExplicitRequest(message, tenant); d.Should {
		return d
	}
	if tenant.Config.EnableSentimentAnalysis && sent != nil {
		if d := e.checkSentiment(conv, tenant, sent); d.Should {
			return d
		}
	}
	if d := e.checkFallbacks(conv, tenant); d.Should {
		return d
	}
	return e.checkLoop(conv)
}

func (e *Evaluator) checkExplicitRequest(message string, tenant *model.Tenant) EscalationDecision {
	lower := strings.ToLower(message)
	for _, kw := range tenant.Keywords() {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return EscalationDecision{
				Should:     true,
				Trigger:    TriggerExplicitRequest,
				Confidence: 1.0,
				Reason:     fmt.Sprintf("user requested a human agent (%q)", kw),
				Matched:    kw,
			}
		}
	}
	return EscalationDecision{}
}

func (e *Evaluator) checkSentiment(conv *model.Conversation, tenant *model.Tenant, sent *sentiment.Result) EscalationDecision {
	threshold := tenant.SentimentThresholdOr(e.sentimentThreshold)

	if sent.Score < threshold {
		return EscalationDecision{
			Should:     true,
			Trigger:    TriggerNegativeSentiment,
			Confidence: 1.0,
			Reason:     fmt.Sprintf("strongly negative message (score %.2f)", sent.Score),
		}
	}

	recent := conv.RecentSentiment(sustainedWindow)
	if len(recent) >= sustainedWindow {
		var sum float64
		for _, s := range recent {
			sum += s
		}
		if mean := sum / float64(len(recent)); mean < threshold {
			return EscalationDecision{
				Should:     true,
				Trigger:    TriggerNegativeSentiment,
				Confidence: 0.8,
				Reason:     fmt.Sprintf("sustained negative sentiment (mean %.2f over last %d messages)", mean, sustainedWindow),
			}
		}
	}
	return EscalationDecision{}
}

func (e *Evaluator) checkFallbacks(conv *model.Conversation, tenant *model.Tenant) EscalationDecision {
	limit := tenant.MaxFallbacksOr(e.maxFallbacks)
	if conv.FallbackCount >= limit {
		return EscalationDecision{
			Should:     true,
			Trigger:    TriggerMaxFallbacks,
			Confidence: 1.0,
			Reason:     fmt.Sprintf("assistant failed to answer %d times in a row", conv.FallbackCount),
		}
	}
	return EscalationDecision{}
}

// checkLoop is reserved for repeated-question detection. It currently never
// fires; the trigger constant exists so downstream consumers of escalation
// events handle it when it lands.
func (e *Evaluator) checkLoop(_ *model.Conversation) EscalationDecision {
	return EscalationDecision{}
}
