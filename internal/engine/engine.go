// Package engine implements the per-turn conversation orchestration
// sequence: context retrieval, memory management, escalation evaluation, and
// response generation, serialized per conversation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/converso-ai/orchestration-platform/internal/model"
	"github.com/converso-ai/orchestration-platform/internal/sentiment"
	"github.com/converso-ai/orchestration-platform/internal/storage"
	"github.com/converso-ai/orchestration-platform/pkg/logger"
	"github.com/converso-ai/orchestration-platform/pkg/metrics"
)

// EventSink receives messages and lifecycle events for downstream consumers
// (channel adapters, agent tooling, audit). A nil sink disables publishing.
type EventSink interface {
	PublishMessage(ctx context.Context, msg *model.Message) (uint64, error)
	PublishEvent(ctx context.Context, event *model.ConversationEvent) (uint64, error)
}

// Deps are the collaborators an Engine needs. All fields except Events are
// required.
type Deps struct {
	Store     storage.Store
	Retriever *Retriever
	Memory    *MemoryManager
	Evaluator *Evaluator
	Generator *Generator
	Analyzer  sentiment.Analyzer
	Events    EventSink
	Logger    *logger.Logger

	SessionTimeout time.Duration
}

// Engine orchestrates conversation turns for all tenants. It is safe for
// concurrent use; turns on the same conversation are serialized.
type Engine struct {
	store     storage.Store
	retriever *Retriever
	memory    *MemoryManager
	evaluator *Evaluator
	generator *Generator
	analyzer  sentiment.Analyzer
	events    EventSink
	log       *logger.Logger

	sessionTimeout time.Duration
	locks          conversationLocks
}

func New(deps Deps) (*Engine, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("engine: store is required")
	case deps.Retriever == nil:
		return nil, errors.New("engine: retriever is required")
	case deps.Memory == nil:
		return nil, errors.New("engine: memory manager is required")
	case deps.Evaluator == nil:
		return nil, errors.New("engine: evaluator is required")
	case deps.Generator == nil:
		return nil, errors.New("engine: generator is required")
	case deps.Analyzer == nil:
		return nil, errors.New("engine: sentiment analyzer is required")
	case deps.Logger == nil:
		return nil, errors.New("engine: logger is required")
	}
	if deps.SessionTimeout <= 0 {
		deps.SessionTimeout = 30 * time.Minute
	}
	return &Engine{
		store:          deps.Store,
		retriever:      deps.Retriever,
		memory:         deps.Memory,
		evaluator:      deps.Evaluator,
		generator:      deps.Generator,
		analyzer:       deps.Analyzer,
		events:         deps.Events,
		log:            deps.Logger,
		sessionTimeout: deps.SessionTimeout,
	}, nil
}

// Tenant loads a tenant and verifies it may process turns.
func (e *Engine) Tenant(ctx context.Context, tenantID string) (*model.Tenant, error) {
	tenant, err := e.store.GetTenant(ctx, tenantID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrTenantNotFound
		}
		return nil, fmt.Errorf("load tenant: %w", err)
	}
	if tenant.Status != model.TenantActive && tenant.Status != model.TenantTrial {
		return nil, ErrTenantDisabled
	}
	return tenant, nil
}

// GetOrCreateConversation resolves the conversation for an inbound message.
// An active conversation whose session window lapsed is expired and replaced
// with a fresh one.
func (e *Engine) GetOrCreateConversation(ctx context.Context, tenant *model.Tenant, userID, channel string) (*model.Conversation, error) {
	conv, err := e.store.GetConversationByUser(ctx, tenant.ID, userID, channel)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("look up conversation: %w", err)
	}

	if conv != nil {
		// Queue behind any in-flight turn and re-read before deciding on
		// expiry, so a turn that just refreshed the session window wins.
		unlock := e.locks.lock(conv.ID)
		conv, err = e.store.GetConversation(ctx, conv.ID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			unlock()
			return nil, fmt.Errorf("look up conversation: %w", err)
		}
		if conv != nil {
			now := time.Now().UTC()
			window := tenant.SessionWindowOr(e.sessionTimeout)
			if conv.Status != model.StatusActive || conv.IsWithinSessionWindow(window, now) {
				unlock()
				return conv, nil
			}
			if _, err := e.expireLocked(ctx, tenant, conv, now); err != nil {
				unlock()
				return nil, err
			}
		}
		unlock()
	}

	now := time.Now().UTC()
	conv = &model.Conversation{
		ID:        uuid.Must(uuid.NewV7()).String(),
		TenantID:  tenant.ID,
		UserID:    userID,
		Channel:   channel,
		Status:    model.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.SaveConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	metrics.ConversationsTotal.WithLabelValues(tenant.ID, channel).Inc()
	e.log.Info("conversation created",
		zap.String("tenant_id", tenant.ID),
		zap.String("conversation_id", conv.ID),
		zap.String("channel", channel))
	return conv, nil
}

// ProcessTurn runs the full orchestration sequence for one inbound message.
// The conversation is locked for the duration of the turn and reloaded under
// the lock, so concurrent turns on the same conversation observe each other's
// effects in full.
func (e *Engine) ProcessTurn(ctx context.Context, tenant *model.Tenant, conversationID string, req *model.TurnRequest) (*model.TurnResponse, error) {
	started := time.Now()
	unlock := e.locks.lock(conversationID)
	defer unlock()

	conv, err := e.store.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	log := e.log.WithConversation(tenant.ID, conv.ID)
	now := time.Now().UTC()

	// Step 1: persist the inbound message and bump counters. Everything
	// after this point leaves the inbound record in place even on failure.
	inbound := &model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conv.ID,
		TenantID:       tenant.ID,
		Content:        req.Content,
		Direction:      model.DirectionInbound,
		Channel:        req.Channel,
		UserID:         req.UserID,
		CreatedAt:      now,
		Metadata: model.MessageMetadata{
			UserName:    req.UserName,
			ChannelMeta: req.Metadata,
		},
	}
	if err := e.store.SaveMessage(ctx, inbound); err != nil {
		return nil, fmt.Errorf("persist inbound message: %w", err)
	}
	conv.MessageCount++
	conv.UserMessageCount++
	conv.LastMessageAt = &now
	conv.LastUserMessageAt = &now
	conv.UpdatedAt = now
	e.publishMessage(ctx, log, inbound)

	// A human owns the conversation: record the message, never generate.
	if conv.Status.InHandoff() {
		if err := e.store.SaveConversation(ctx, conv); err != nil {
			return nil, fmt.Errorf("persist conversation: %w", err)
		}
		e.recordTurn(tenant.ID, "skipped", started)
		return &model.TurnResponse{ConversationID: conv.ID, Skipped: true}, nil
	}

	// Step 2: sentiment. A failed analysis is a missing signal, not an
	// error.
	var sent *sentiment.Result
	if tenant.Config.EnableSentimentAnalysis {
		res, err := e.analyzer.Analyze(ctx, req.Content)
		if err != nil {
			log.Warn("sentiment analysis failed, continuing without it", zap.Error(err))
		} else {
			sent = &res
			conv.UpdateSentiment(res.Score)
			metrics.SentimentScore.WithLabelValues(tenant.ID).Observe(res.Score)
		}
	}

	// Step 3: escalation checks. A firing check ends the turn before any
	// generation work happens.
	if decision := e.evaluator.Evaluate(req.Content, conv, tenant, sent); decision.Should {
		conv.Status = model.StatusHandoffPending
		conv.HandoffReason = decision.Reason
		if err := e.store.SaveConversation(ctx, conv); err != nil {
			return nil, fmt.Errorf("persist conversation: %w", err)
		}
		e.publishEvent(ctx, log, conv, model.EventTypeEscalation, decision.Reason, map[string]string{
			"trigger":    string(decision.Trigger),
			"confidence": fmt.Sprintf("%.2f", decision.Confidence),
		})
		metrics.RecordEscalation(tenant.ID, string(decision.Trigger))
		e.recordTurn(tenant.ID, "escalated", started)
		log.Info("conversation escalated",
			zap.String("trigger", string(decision.Trigger)),
			zap.String("reason", decision.Reason))
		return &model.TurnResponse{
			ConversationID: conv.ID,
			Escalated:      true,
			EscalationInfo: decision.Reason,
		}, nil
	}

	// Step 4: gather context. Retrieval and history failures degrade to
	// generating without them.
	retrieved := e.retriever.Retrieve(ctx, req.Content, tenant.ID, req.UserID)
	metrics.RetrievalResults.WithLabelValues("knowledge").Observe(float64(len(retrieved.Knowledge)))
	metrics.RetrievalResults.WithLabelValues("memory").Observe(float64(len(retrieved.Memories)))

	history, err := e.memory.ContextWindow(ctx, conv.ID)
	if err != nil {
		log.Warn("context window load failed, generating without history", zap.Error(err))
		history = nil
	} else if len(history) > 0 {
		// The inbound message is already persisted; Generate appends it
		// separately.
		history = history[:len(history)-1]
	}

	// Step 5: generate. Failure here is fatal to the turn; step 1 state
	// stays persisted.
	genResp, err := e.generator.Generate(ctx, tenant, conv, history, retrieved.Format(), req.Content)
	if err != nil {
		if saveErr := e.store.SaveConversation(ctx, conv); saveErr != nil {
			log.Error("failed to persist conversation after generation failure", zap.Error(saveErr))
		}
		e.recordTurn(tenant.ID, "failed", started)
		log.Error("response generation failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	outbound := &model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conv.ID,
		TenantID:       tenant.ID,
		Content:        genResp.Content,
		Direction:      model.DirectionOutbound,
		Channel:        req.Channel,
		UserID:         req.UserID,
		FromBot:        true,
		CreatedAt:      time.Now().UTC(),
		Metadata: model.MessageMetadata{
			Model:            genResp.Model,
			TokensIn:         genResp.TokensIn,
			TokensOut:        genResp.TokensOut,
			LatencyMs:        genResp.LatencyMs,
			ProcessingTimeMs: time.Since(started).Milliseconds(),
			KnowledgeSources: retrieved.SourceIDs(),
		},
	}
	if sent != nil {
		score := sent.Score
		outbound.Metadata.SentimentScore = &score
		outbound.Metadata.SentimentLabel = string(sent.Label)
	}
	if err := e.store.SaveMessage(ctx, outbound); err != nil {
		return nil, fmt.Errorf("persist outbound message: %w", err)
	}
	conv.MessageCount++
	conv.BotMessageCount++
	last := outbound.CreatedAt
	conv.LastMessageAt = &last
	conv.UpdatedAt = last
	conv.ResetFallbacks()
	e.publishMessage(ctx, log, outbound)
	e.publishEvent(ctx, log, conv, model.EventTypeReply, "", map[string]string{"model": genResp.Model})

	// Step 6: summarization check. Failure is logged and retried on a
	// later turn.
	if tenant.Config.EnableConversationSummary && e.memory.ShouldSummarize(conv) {
		if summary, err := e.memory.Summarize(ctx, conv); err != nil {
			log.Warn("summarization failed, will retry later", zap.Error(err))
		} else if summary != nil {
			e.publishEvent(ctx, log, conv, model.EventTypeSummary, "", map[string]string{
				"range": fmt.Sprintf("%d-%d", summary.Start, summary.End),
			})
		}
	}

	// Single consistent snapshot per turn.
	if err := e.store.SaveConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("persist conversation: %w", err)
	}

	e.recordTurn(tenant.ID, "replied", started)
	return &model.TurnResponse{ConversationID: conv.ID, Reply: genResp.Content}, nil
}

// HandleFallback records that the bot could not produce a useful answer and
// returns the tenant's fallback message. Channel adapters call this when a
// reply is unusable downstream.
func (e *Engine) HandleFallback(ctx context.Context, tenant *model.Tenant, conversationID string) (string, error) {
	unlock := e.locks.lock(conversationID)
	defer unlock()

	conv, err := e.store.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", ErrConversationNotFound
		}
		return "", fmt.Errorf("load conversation: %w", err)
	}
	conv.IncrementFallback()
	conv.UpdatedAt = time.Now().UTC()
	if err := e.store.SaveConversation(ctx, conv); err != nil {
		return "", fmt.Errorf("persist conversation: %w", err)
	}

	msg := tenant.Config.FallbackMessage
	if msg == "" {
		msg = "I'm sorry, I couldn't find an answer to that. Could you rephrase, or would you like to speak with a human agent?"
	}
	return msg, nil
}

// AssignAgent moves a pending handoff to an active one.
func (e *Engine) AssignAgent(ctx context.Context, conversationID, agentID string) (*model.Conversation, error) {
	unlock := e.locks.lock(conversationID)
	defer unlock()

	conv, err := e.store.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if conv.Status != model.StatusHandoffPending {
		return nil, fmt.Errorf("engine: conversation %s is %s, not pending handoff", conv.ID, conv.Status)
	}
	conv.Status = model.StatusHandoffActive
	conv.AssignedAgentID = agentID
	conv.UpdatedAt = time.Now().UTC()
	if err := e.store.SaveConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("persist conversation: %w", err)
	}
	return conv, nil
}

// ResumeFromHandoff hands a conversation back to the bot after a human agent
// finishes without resolving it.
func (e *Engine) ResumeFromHandoff(ctx context.Context, conversationID string) (*model.Conversation, error) {
	unlock := e.locks.lock(conversationID)
	defer unlock()

	conv, err := e.store.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if !conv.Status.InHandoff() {
		return nil, fmt.Errorf("engine: conversation %s is %s, not in handoff", conv.ID, conv.Status)
	}
	conv.Status = model.StatusActive
	conv.HandoffReason = ""
	conv.AssignedAgentID = ""
	conv.ResetFallbacks()
	conv.UpdatedAt = time.Now().UTC()
	if err := e.store.SaveConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("persist conversation: %w", err)
	}
	return conv, nil
}

// Resolve closes a conversation. Safe from any state.
func (e *Engine) Resolve(ctx context.Context, tenant *model.Tenant, conversationID, reason string) (*model.Conversation, error) {
	unlock := e.locks.lock(conversationID)
	defer unlock()

	conv, err := e.store.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if conv.TenantID != tenant.ID {
		return nil, ErrConversationNotFound
	}
	conv.Status = model.StatusResolved
	if reason != "" {
		if conv.Metadata == nil {
			conv.Metadata = map[string]string{}
		}
		conv.Metadata["closure_reason"] = reason
	}
	conv.UpdatedAt = time.Now().UTC()
	if err := e.store.SaveConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("persist conversation: %w", err)
	}
	e.publishEvent(ctx, e.log.WithConversation(conv.TenantID, conv.ID), conv, model.EventTypeResolved, reason, nil)
	return conv, nil
}

// ExpireIfStale expires an active conversation whose session window has
// lapsed. It reports whether the conversation was expired.
func (e *Engine) ExpireIfStale(ctx context.Context, tenant *model.Tenant, conversationID string, now time.Time) (bool, error) {
	unlock := e.locks.lock(conversationID)
	defer unlock()

	conv, err := e.store.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, ErrConversationNotFound
		}
		return false, fmt.Errorf("load conversation: %w", err)
	}
	return e.expireLocked(ctx, tenant, conv, now)
}

func (e *Engine) expireLocked(ctx context.Context, tenant *model.Tenant, conv *model.Conversation, now time.Time) (bool, error) {
	if conv.Status != model.StatusActive {
		return false, nil
	}
	if conv.IsWithinSessionWindow(tenant.SessionWindowOr(e.sessionTimeout), now) {
		return false, nil
	}
	conv.Status = model.StatusExpired
	conv.UpdatedAt = now
	if err := e.store.SaveConversation(ctx, conv); err != nil {
		return false, fmt.Errorf("expire conversation: %w", err)
	}
	e.publishEvent(ctx, e.log.WithConversation(conv.TenantID, conv.ID), conv, model.EventTypeExpired, "session window lapsed", nil)
	return true, nil
}

func (e *Engine) recordTurn(tenantID, outcome string, started time.Time) {
	metrics.RecordTurn(tenantID, outcome, time.Since(started).Seconds())
}

// publishMessage mirrors a persisted message onto the event log. Publish
// failures never affect the turn.
func (e *Engine) publishMessage(ctx context.Context, log *logger.Logger, msg *model.Message) {
	if e.events == nil {
		return
	}
	if _, err := e.events.PublishMessage(ctx, msg); err != nil {
		log.Warn("failed to publish message event", zap.Error(err))
	}
}

func (e *Engine) publishEvent(ctx context.Context, log *logger.Logger, conv *model.Conversation, eventType model.EventType, reason string, meta map[string]string) {
	if e.events == nil {
		return
	}
	event := &model.ConversationEvent{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conv.ID,
		TenantID:       conv.TenantID,
		UserID:         conv.UserID,
		Channel:        conv.Channel,
		Type:           eventType,
		Reason:         reason,
		Metadata:       meta,
		CreatedAt:      time.Now().UTC(),
	}
	if _, err := e.events.PublishEvent(ctx, event); err != nil {
		log.Warn("failed to publish conversation event",
			zap.String("event_type", string(eventType)),
			zap.Error(err))
	}
}
