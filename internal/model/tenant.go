// Package model defines data structures for the conversation platform.
package model

import (
	"fmt"
	"time"
)

// TenantStatus represents the account status of a tenant.
type TenantStatus string

const (
	TenantActive    TenantStatus = "active"
	TenantInactive  TenantStatus = "inactive"
	TenantSuspended TenantStatus = "suspended"
	TenantTrial     TenantStatus = "trial"
)

// DefaultHandoffKeywords are matched when a tenant has not configured its own.
var DefaultHandoffKeywords = []string{
	"agent", "human", "person", "representative", "operator",
	"speak to someone", "talk to someone", "real person",
	"agente", "humano", "persona", "representante",
	"hablar con alguien",
}

// TenantConfig holds per-tenant behavior configuration.
type TenantConfig struct {
	// Branding
	CompanyName     string `json:"company_name"`
	WelcomeMessage  string `json:"welcome_message"`
	FallbackMessage string `json:"fallback_message"`

	// Generation settings
	SystemPrompt string  `json:"system_prompt"`
	Temperature  float64 `json:"temperature"`
	MaxTokens    int     `json:"max_tokens"`

	// Handoff settings
	EnableAutoHandoff  bool     `json:"enable_auto_handoff"`
	HandoffKeywords    []string `json:"handoff_keywords,omitempty"`
	SentimentThreshold *float64 `json:"sentiment_threshold,omitempty"`
	MaxFallbacks       *int     `json:"max_fallbacks,omitempty"`

	// Feature flags
	EnableSentimentAnalysis   bool `json:"enable_sentiment_analysis"`
	EnableConversationSummary bool `json:"enable_conversation_summary"`

	// Session
	SessionWindow time.Duration `json:"session_window,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// Tenant is an isolated customer organization. Identity is immutable;
// configuration is managed by external admin operations and read-only here.
type Tenant struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Status    TenantStatus `json:"status"`
	Config    TenantConfig `json:"config"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Keywords returns the tenant's handoff keywords, falling back to defaults.
func (t *Tenant) Keywords() []string {
	if len(t.Config.HandoffKeywords) > 0 {
		return t.Config.HandoffKeywords
	}
	return DefaultHandoffKeywords
}

// SentimentThresholdOr returns the tenant's sentiment threshold override
// or the given platform default.
func (t *Tenant) SentimentThresholdOr(def float64) float64 {
	if t.Config.SentimentThreshold != nil {
		return *t.Config.SentimentThreshold
	}
	return def
}

// MaxFallbacksOr returns the tenant's fallback limit override or the given
// platform default.
func (t *Tenant) MaxFallbacksOr(def int) int {
	if t.Config.MaxFallbacks != nil {
		return *t.Config.MaxFallbacks
	}
	return def
}

// SessionWindowOr returns the tenant's session window or the given default.
func (t *Tenant) SessionWindowOr(def time.Duration) time.Duration {
	if t.Config.SessionWindow > 0 {
		return t.Config.SessionWindow
	}
	return def
}

// SystemPrompt returns the tenant's configured system prompt, generating a
// default from the company name when unset.
func (t *Tenant) SystemPrompt() string {
	if t.Config.SystemPrompt != "" {
		return t.Config.SystemPrompt
	}
	name := t.Config.CompanyName
	if name == "" {
		name = t.Name
	}
	return fmt.Sprintf(`You are a helpful customer support assistant for %s.

Your role is to:
- Answer questions about products, services, and policies
- Help resolve customer issues
- Provide accurate information based on the knowledge base
- Be polite, professional, and empathetic

Guidelines:
- If you don't know the answer, say so honestly and offer to connect with a human agent
- Never make up information
- Keep responses concise but helpful
- If the customer seems frustrated, acknowledge their feelings

Always respond in the same language the customer uses.`, name)
}
