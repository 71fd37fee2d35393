package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/converso-ai/orchestration-platform/internal/model"
	"github.com/converso-ai/orchestration-platform/internal/sentiment"
)

func testTenant() *model.Tenant {
	return &model.Tenant{
		ID:     "tenant-1",
		Name:   "Acme",
		Status: model.TenantActive,
		Config: model.TenantConfig{
			CompanyName:               "Acme",
			EnableAutoHandoff:         true,
			EnableSentimentAnalysis:   true,
			EnableConversationSummary: true,
		},
	}
}

func TestEvaluateDisabledAutoHandoff(t *testing.T) {
	e := NewEvaluator(-0.5, 2)
	tenant := testTenant()
	tenant.Config.EnableAutoHandoff = false

	conv := &model.Conversation{FallbackCount: 10}
	d := e.Evaluate("I want a human agent now", conv, tenant, &sentiment.Result{Score: -1})
	assert.False(t, d.Should)
}

func TestEvaluateExplicitKeyword(t *testing.T) {
	e := NewEvaluator(-0.5, 2)

	d := e.Evaluate("Can I speak to a HUMAN please", &model.Conversation{}, testTenant(), nil)
	assert.True(t, d.Should)
	assert.Equal(t, TriggerExplicitRequest, d.Trigger)
	assert.Equal(t, 1.0, d.Confidence)
	assert.Equal(t, "human", d.Matched)
}

func TestEvaluateExplicitKeywordSpanish(t *testing.T) {
	e := NewEvaluator(-0.5, 2)

	d := e.Evaluate("quiero hablar con alguien", &model.Conversation{}, testTenant(), nil)
	assert.True(t, d.Should)
	assert.Equal(t, TriggerExplicitRequest, d.Trigger)
}

func TestEvaluateTenantKeywordOverride(t *testing.T) {
	e := NewEvaluator(-0.5, 2)
	tenant := testTenant()
	tenant.Config.HandoffKeywords = []string{"escalate me"}

	d := e.Evaluate("I want to talk to a human", &model.Conversation{}, tenant, nil)
	assert.False(t, d.Should, "default keywords replaced by tenant's own")

	d = e.Evaluate("please ESCALATE ME", &model.Conversation{}, tenant, nil)
	assert.True(t, d.Should)
}

func TestEvaluateKeywordWinsOverSentiment(t *testing.T) {
	e := NewEvaluator(-0.5, 2)

	d := e.Evaluate("agent", &model.Conversation{}, testTenant(), &sentiment.Result{Score: -0.9})
	assert.Equal(t, TriggerExplicitRequest, d.Trigger)
}

func TestEvaluateInstantNegativeSentiment(t *testing.T) {
	e := NewEvaluator(-0.5, 2)

	d := e.Evaluate("everything is broken", &model.Conversation{}, testTenant(),
		&sentiment.Result{Label: sentiment.LabelNegative, Score: -0.8, Confidence: 0.9})
	assert.True(t, d.Should)
	assert.Equal(t, TriggerNegativeSentiment, d.Trigger)
	assert.Equal(t, 1.0, d.Confidence)
}

func TestEvaluateSustainedNegativeSentiment(t *testing.T) {
	e := NewEvaluator(-0.5, 2)

	conv := &model.Conversation{}
	conv.UpdateSentiment(-0.6)
	conv.UpdateSentiment(-0.7)
	conv.UpdateSentiment(-0.6)

	// The current message itself is not below the threshold.
	d := e.Evaluate("still not working", conv, testTenant(),
		&sentiment.Result{Label: sentiment.LabelNegative, Score: -0.3, Confidence: 0.6})
	assert.True(t, d.Should)
	assert.Equal(t, TriggerNegativeSentiment, d.Trigger)
	assert.Equal(t, 0.8, d.Confidence)
}

func TestEvaluateSustainedNeedsThreeSamples(t *testing.T) {
	e := NewEvaluator(-0.5, 2)

	conv := &model.Conversation{}
	conv.UpdateSentiment(-0.9)
	conv.UpdateSentiment(-0.9)

	d := e.Evaluate("hm", conv, testTenant(), &sentiment.Result{Score: -0.2})
	assert.False(t, d.Should)
}

func TestEvaluateSentimentSkippedWhenMissing(t *testing.T) {
	e := NewEvaluator(-0.5, 2)

	conv := &model.Conversation{}
	conv.UpdateSentiment(-0.9)
	conv.UpdateSentiment(-0.9)
	conv.UpdateSentiment(-0.9)

	d := e.Evaluate("hello", conv, testTenant(), nil)
	assert.False(t, d.Should, "no sentiment signal this turn, check skipped")
}

func TestEvaluateSentimentDisabled(t *testing.T) {
	e := NewEvaluator(-0.5, 2)
	tenant := testTenant()
	tenant.Config.EnableSentimentAnalysis = false

	d := e.Evaluate("hello", &model.Conversation{}, tenant, &sentiment.Result{Score: -1})
	assert.False(t, d.Should)
}

func TestEvaluateMaxFallbacks(t *testing.T) {
	e := NewEvaluator(-0.5, 2)

	d := e.Evaluate("what?", &model.Conversation{FallbackCount: 2}, testTenant(), nil)
	assert.True(t, d.Should)
	assert.Equal(t, TriggerMaxFallbacks, d.Trigger)

	d = e.Evaluate("what?", &model.Conversation{FallbackCount: 1}, testTenant(), nil)
	assert.False(t, d.Should)
}

func TestEvaluateTenantFallbackOverride(t *testing.T) {
	e := NewEvaluator(-0.5, 2)
	tenant := testTenant()
	five := 5
	tenant.Config.MaxFallbacks = &five

	d := e.Evaluate("what?", &model.Conversation{FallbackCount: 3}, tenant, nil)
	assert.False(t, d.Should)
}

func TestEvaluateNoTriggers(t *testing.T) {
	e := NewEvaluator(-0.5, 2)

	d := e.Evaluate("what are your opening hours?", &model.Conversation{}, testTenant(),
		&sentiment.Result{Label: sentiment.LabelNeutral, Score: 0, Confidence: 1})
	assert.False(t, d.Should)
	assert.Empty(t, d.Trigger)
}
