package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/converso-ai/orchestration-platform/internal/llm"
	"github.com/converso-ai/orchestration-platform/internal/model"
	"github.com/converso-ai/orchestration-platform/internal/sentiment"
	"github.com/converso-ai/orchestration-platform/internal/storage"
	"github.com/converso-ai/orchestration-platform/internal/vector"
	"github.com/converso-ai/orchestration-platform/pkg/logger"
)

type stubLLM struct {
	mu       sync.Mutex
	calls    int
	response string
	err      error
}

func (s *stubLLM) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &llm.CompletionResponse{Content: s.response, Model: "stub-model"}, nil
}

func (s *stubLLM) Name() string     { return "stub" }
func (s *stubLLM) Models() []string { return []string{"stub-model"} }

func (s *stubLLM) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubIndex struct {
	mu        sync.Mutex
	knowledge []vector.SearchResult
	memories  []vector.SearchResult
	searchErr error
	upsertErr error
	upserted  []string
}

func (s *stubIndex) Search(ctx context.Context, query, tenantID, docType string, extraFilters map[string]string, limit int, scoreThreshold float64) ([]vector.SearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	if docType == vector.DocTypeKnowledge {
		return s.knowledge, nil
	}
	return s.memories, nil
}

func (s *stubIndex) Upsert(ctx context.Context, documents []string, tenantID, docType string, metadata []map[string]string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return nil, s.upsertErr
	}
	s.upserted = append(s.upserted, documents...)
	ids := make([]string, len(documents))
	for i := range documents {
		ids[i] = fmt.Sprintf("doc-%d", len(s.upserted)+i)
	}
	return ids, nil
}

type stubSink struct {
	mu       sync.Mutex
	messages []model.Message
	events   []model.ConversationEvent
}

func (s *stubSink) PublishMessage(ctx context.Context, msg *model.Message) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, *msg)
	return uint64(len(s.messages)), nil
}

func (s *stubSink) PublishEvent(ctx context.Context, event *model.ConversationEvent) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *event)
	return uint64(len(s.events)), nil
}

func (s *stubSink) eventTypes() []model.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]model.EventType, 0, len(s.events))
	for _, e := range s.events {
		types = append(types, e.Type)
	}
	return types
}

type testHarness struct {
	engine *Engine
	store  storage.Store
	llm    *stubLLM
	index  *stubIndex
	sink   *stubSink
	tenant *model.Tenant
}

func newHarness(t *testing.T, opts ...func(*Deps)) *testHarness {
	t.Helper()

	store := storage.NewMemoryStore()
	llmStub := &stubLLM{response: "Here is your answer."}
	index := &stubIndex{}
	sink := &stubSink{}
	log := logger.NewNop()

	gen := NewGenerator(llmStub, log)
	deps := Deps{
		Store:          store,
		Retriever:      NewRetriever(index, 0.5, 5, 3, log),
		Memory:         NewMemoryManager(store, index, gen, 10, 15, log),
		Evaluator:      NewEvaluator(-0.5, 2),
		Generator:      gen,
		Analyzer:       sentiment.NewKeywordAnalyzer(),
		Events:         sink,
		Logger:         log,
		SessionTimeout: 30 * time.Minute,
	}
	for _, opt := range opts {
		opt(&deps)
	}

	eng, err := New(deps)
	require.NoError(t, err)

	tenant := testTenant()
	require.NoError(t, store.SaveTenant(context.Background(), tenant))

	return &testHarness{engine: eng, store: store, llm: llmStub, index: index, sink: sink, tenant: tenant}
}

func (h *testHarness) newConversation(t *testing.T) *model.Conversation {
	t.Helper()
	conv, err := h.engine.GetOrCreateConversation(context.Background(), h.tenant, "user-1", "web")
	require.NoError(t, err)
	return conv
}

func turnRequest(content string) *model.TurnRequest {
	return &model.TurnRequest{UserID: "user-1", Channel: "web", Content: content}
}

func TestProcessTurnReplies(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conv := h.newConversation(t)

	resp, err := h.engine.ProcessTurn(ctx, h.tenant, conv.ID, turnRequest("what are your opening hours?"))
	require.NoError(t, err)
	assert.Equal(t, "Here is your answer.", resp.Reply)
	assert.False(t, resp.Escalated)
	assert.False(t, resp.Skipped)

	got, err := h.store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.MessageCount)
	assert.Equal(t, 1, got.UserMessageCount)
	assert.Equal(t, 1, got.BotMessageCount)
	assert.Equal(t, model.StatusActive, got.Status)
	require.NotNil(t, got.LastUserMessageAt)

	msgs, err := h.store.GetRecentMessages(ctx, conv.ID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.DirectionInbound, msgs[0].Direction)
	assert.Equal(t, model.DirectionOutbound, msgs[1].Direction)
	assert.Equal(t, "stub-model", msgs[1].Metadata.Model)

	assert.Contains(t, h.sink.eventTypes(), model.EventTypeReply)
}

func TestProcessTurnResetsFallbacksOnReply(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conv := h.newConversation(t)

	conv.FallbackCount = 1
	require.NoError(t, h.store.SaveConversation(ctx, conv))

	_, err := h.engine.ProcessTurn(ctx, h.tenant, conv.ID, turnRequest("hello there"))
	require.NoError(t, err)

	got, err := h.store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.FallbackCount)
}

func TestProcessTurnSkipsInHandoff(t *testing.T) {
	for _, status := range []model.ConversationStatus{model.StatusHandoffPending, model.StatusHandoffActive} {
		t.Run(string(status), func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			conv := h.newConversation(t)

			conv.Status = status
			require.NoError(t, h.store.SaveConversation(ctx, conv))

			resp, err := h.engine.ProcessTurn(ctx, h.tenant, conv.ID, turnRequest("are you there?"))
			require.NoError(t, err)
			assert.True(t, resp.Skipped)
			assert.Empty(t, resp.Reply)
			assert.Zero(t, h.llm.callCount())

			got, err := h.store.GetConversation(ctx, conv.ID)
			require.NoError(t, err)
			assert.Equal(t, 1, got.MessageCount, "inbound still recorded")
			assert.Equal(t, 0, got.BotMessageCount)
			assert.Equal(t, status, got.Status)
		})
	}
}

func TestProcessTurnEscalatesOnKeyword(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conv := h.newConversation(t)

	resp, err := h.engine.ProcessTurn(ctx, h.tenant, conv.ID, turnRequest("let me talk to a real person"))
	require.NoError(t, err)
	assert.True(t, resp.Escalated)
	assert.NotEmpty(t, resp.EscalationInfo)
	assert.Empty(t, resp.Reply)
	assert.Zero(t, h.llm.callCount(), "no generation after escalation")

	got, err := h.store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusHandoffPending, got.Status)
	assert.NotEmpty(t, got.HandoffReason)
	assert.Equal(t, 1, got.MessageCount)

	assert.Contains(t, h.sink.eventTypes(), model.EventTypeEscalation)
}

func TestProcessTurnEscalatesOnNegativeSentiment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conv := h.newConversation(t)

	resp, err := h.engine.ProcessTurn(ctx, h.tenant, conv.ID, turnRequest("this is terrible, awful, completely useless"))
	require.NoError(t, err)
	assert.True(t, resp.Escalated)

	got, err := h.store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusHandoffPending, got.Status)
	assert.NotEmpty(t, got.SentimentHistory, "sentiment recorded before the checks ran")
}

func TestProcessTurnEscalatesOnFallbackExhaustion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conv := h.newConversation(t)

	conv.FallbackCount = 2
	require.NoError(t, h.store.SaveConversation(ctx, conv))

	resp, err := h.engine.ProcessTurn(ctx, h.tenant, conv.ID, turnRequest("what are your opening hours?"))
	require.NoError(t, err)
	assert.True(t, resp.Escalated)
}

func TestProcessTurnGenerationFailureKeepsInbound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conv := h.newConversation(t)

	h.llm.err = errors.New("provider down")

	_, err := h.engine.ProcessTurn(ctx, h.tenant, conv.ID, turnRequest("what are your opening hours?"))
	require.ErrorIs(t, err, ErrGenerationFailed)

	got, err := h.store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.MessageCount, "inbound persisted despite the failure")
	assert.Equal(t, 0, got.BotMessageCount)
	assert.Equal(t, model.StatusActive, got.Status)

	msgs, err := h.store.GetRecentMessages(ctx, conv.ID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, model.DirectionInbound, msgs[0].Direction)
}

func TestProcessTurnRetrievalFailureStillReplies(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conv := h.newConversation(t)

	h.index.searchErr = errors.New("index down")

	resp, err := h.engine.ProcessTurn(ctx, h.tenant, conv.ID, turnRequest("what are your opening hours?"))
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Reply)
}

func TestProcessTurnUnknownConversation(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.ProcessTurn(context.Background(), h.tenant, "00000000-0000-0000-0000-000000000000", turnRequest("hi"))
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestProcessTurnSummarizesAtThreshold(t *testing.T) {
	h := newHarness(t, func(d *Deps) {
		gen := NewGenerator(&stubLLM{response: "They discussed opening hours."}, logger.NewNop())
		d.Memory = NewMemoryManager(d.Store, d.Retriever.index, gen, 10, 4, d.Logger)
	})
	ctx := context.Background()
	conv := h.newConversation(t)

	for i := 0; i < 2; i++ {
		_, err := h.engine.ProcessTurn(ctx, h.tenant, conv.ID, turnRequest("what are your opening hours?"))
		require.NoError(t, err)
	}

	got, err := h.store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, got.Summaries, 1)
	assert.Equal(t, 0, got.Summaries[0].Start)
	assert.Equal(t, 4, got.Summaries[0].End)
	assert.Equal(t, "They discussed opening hours.", got.Summaries[0].SummaryText)
	assert.NotEmpty(t, h.index.upserted, "summary indexed as memory")

	// Two more turns, the next summary covers only the new range.
	for i := 0; i < 2; i++ {
		_, err := h.engine.ProcessTurn(ctx, h.tenant, conv.ID, turnRequest("and on weekends?"))
		require.NoError(t, err)
	}

	got, err = h.store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, got.Summaries, 2)
	assert.Equal(t, 4, got.Summaries[1].Start)
	assert.Equal(t, 8, got.Summaries[1].End)
}

func TestProcessTurnSummaryDisabledByTenant(t *testing.T) {
	h := newHarness(t, func(d *Deps) {
		d.Memory = NewMemoryManager(d.Store, d.Retriever.index, d.Generator, 10, 2, d.Logger)
	})
	h.tenant.Config.EnableConversationSummary = false
	require.NoError(t, h.store.SaveTenant(context.Background(), h.tenant))

	ctx := context.Background()
	conv := h.newConversation(t)

	for i := 0; i < 3; i++ {
		_, err := h.engine.ProcessTurn(ctx, h.tenant, conv.ID, turnRequest("hello"))
		require.NoError(t, err)
	}

	got, err := h.store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Summaries)
}

func TestProcessTurnSerializesPerConversation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conv := h.newConversation(t)

	const turns = 10
	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.engine.ProcessTurn(ctx, h.tenant, conv.ID, turnRequest("hello"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := h.store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 2*turns, got.MessageCount)
	assert.Equal(t, turns, got.UserMessageCount)
	assert.Equal(t, turns, got.BotMessageCount)
}

func TestGetOrCreateConversationReusesActive(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.engine.GetOrCreateConversation(ctx, h.tenant, "user-1", "web")
	require.NoError(t, err)

	_, err = h.engine.ProcessTurn(ctx, h.tenant, first.ID, turnRequest("hello"))
	require.NoError(t, err)

	second, err := h.engine.GetOrCreateConversation(ctx, h.tenant, "user-1", "web")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestGetOrCreateConversationExpiresStale(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.engine.GetOrCreateConversation(ctx, h.tenant, "user-1", "web")
	require.NoError(t, err)

	stale := time.Now().UTC().Add(-2 * time.Hour)
	first.LastUserMessageAt = &stale
	require.NoError(t, h.store.SaveConversation(ctx, first))

	second, err := h.engine.GetOrCreateConversation(ctx, h.tenant, "user-1", "web")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	old, err := h.store.GetConversation(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusExpired, old.Status)
	assert.Contains(t, h.sink.eventTypes(), model.EventTypeExpired)
}

// gatedStore stalls the first SaveMessage until released, holding the
// conversation lock so concurrent lookups have to queue.
type gatedStore struct {
	storage.Store
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *gatedStore) SaveMessage(ctx context.Context, msg *model.Message) error {
	s.once.Do(func() {
		close(s.entered)
		<-s.release
	})
	return s.Store.SaveMessage(ctx, msg)
}

func TestGetOrCreateConversationQueuesBehindTurn(t *testing.T) {
	gate := &gatedStore{entered: make(chan struct{}), release: make(chan struct{})}
	h := newHarness(t, func(d *Deps) {
		gate.Store = d.Store
		d.Store = gate
	})
	ctx := context.Background()
	conv := h.newConversation(t)

	stale := time.Now().UTC().Add(-2 * time.Hour)
	conv.LastUserMessageAt = &stale
	require.NoError(t, h.store.SaveConversation(ctx, conv))

	turnDone := make(chan struct{})
	go func() {
		defer close(turnDone)
		_, err := h.engine.ProcessTurn(ctx, h.tenant, conv.ID, turnRequest("hello"))
		assert.NoError(t, err)
	}()
	<-gate.entered

	lookup := make(chan *model.Conversation, 1)
	go func() {
		c, err := h.engine.GetOrCreateConversation(ctx, h.tenant, "user-1", "web")
		assert.NoError(t, err)
		lookup <- c
	}()

	select {
	case <-lookup:
		t.Fatal("lookup did not queue behind the in-flight turn")
	case <-time.After(50 * time.Millisecond):
	}

	close(gate.release)
	<-turnDone

	got := <-lookup
	assert.Equal(t, conv.ID, got.ID)

	stored, err := h.store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, stored.Status)
	assert.NotContains(t, h.sink.eventTypes(), model.EventTypeExpired)
}

func TestLifecycleRetainsLockEntries(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	conv := h.newConversation(t)
	_, err := h.engine.Resolve(ctx, h.tenant, conv.ID, "answered")
	require.NoError(t, err)
	_, ok := h.engine.locks.mu.Load(conv.ID)
	assert.True(t, ok)

	second, err := h.engine.GetOrCreateConversation(ctx, h.tenant, "user-1", "web")
	require.NoError(t, err)
	stale := time.Now().UTC().Add(-2 * time.Hour)
	second.LastUserMessageAt = &stale
	require.NoError(t, h.store.SaveConversation(ctx, second))

	expired, err := h.engine.ExpireIfStale(ctx, h.tenant, second.ID, time.Now().UTC())
	require.NoError(t, err)
	require.True(t, expired)
	_, ok = h.engine.locks.mu.Load(second.ID)
	assert.True(t, ok)
}

func TestProcessTurnStoresInboundSenderMetadata(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conv := h.newConversation(t)

	req := turnRequest("hello")
	req.UserName = "Maria"
	req.Metadata = map[string]string{"wa_message_id": "wamid.123"}
	_, err := h.engine.ProcessTurn(ctx, h.tenant, conv.ID, req)
	require.NoError(t, err)

	msgs, err := h.store.GetMessages(ctx, conv.ID, 0, "")
	require.NoError(t, err)
	require.NotEmpty(t, msgs)
	assert.Equal(t, "Maria", msgs[0].Metadata.UserName)
	assert.Equal(t, "wamid.123", msgs[0].Metadata.ChannelMeta["wa_message_id"])
}

func TestAssignAgentTransitions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conv := h.newConversation(t)

	_, err := h.engine.AssignAgent(ctx, conv.ID, "agent-7")
	assert.Error(t, err, "only pending handoffs can be assigned")

	conv.Status = model.StatusHandoffPending
	require.NoError(t, h.store.SaveConversation(ctx, conv))

	assigned, err := h.engine.AssignAgent(ctx, conv.ID, "agent-7")
	require.NoError(t, err)
	assert.Equal(t, model.StatusHandoffActive, assigned.Status)
	assert.Equal(t, "agent-7", assigned.AssignedAgentID)
}

func TestResumeFromHandoff(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conv := h.newConversation(t)

	_, err := h.engine.ResumeFromHandoff(ctx, conv.ID)
	assert.Error(t, err, "only handoff conversations can resume")

	conv.Status = model.StatusHandoffActive
	conv.HandoffReason = "sustained negative sentiment"
	conv.AssignedAgentID = "agent-7"
	conv.FallbackCount = 2
	require.NoError(t, h.store.SaveConversation(ctx, conv))

	resumed, err := h.engine.ResumeFromHandoff(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, resumed.Status)
	assert.Empty(t, resumed.HandoffReason)
	assert.Empty(t, resumed.AssignedAgentID)
	assert.Zero(t, resumed.FallbackCount)

	// The bot replies again on the next turn.
	resp, err := h.engine.ProcessTurn(ctx, h.tenant, conv.ID, turnRequest("thanks, one more question"))
	require.NoError(t, err)
	assert.False(t, resp.Skipped)
	assert.NotEmpty(t, resp.Reply)
}

func TestResolveConversation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conv := h.newConversation(t)

	resolved, err := h.engine.Resolve(ctx, h.tenant, conv.ID, "answered")
	require.NoError(t, err)
	assert.Equal(t, model.StatusResolved, resolved.Status)
	assert.Equal(t, "answered", resolved.Metadata["closure_reason"])
	assert.Contains(t, h.sink.eventTypes(), model.EventTypeResolved)
}

func TestResolveRejectsForeignTenant(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conv := h.newConversation(t)

	other := testTenant()
	other.ID = "tenant-2"
	_, err := h.engine.Resolve(ctx, other, conv.ID, "answered")
	assert.ErrorIs(t, err, ErrConversationNotFound)

	got, err := h.store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, got.Status)
}

func TestHandleFallback(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conv := h.newConversation(t)

	msg, err := h.engine.HandleFallback(ctx, h.tenant, conv.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, msg)

	got, err := h.store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.FallbackCount)
}

func TestTenantLookup(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tenant, err := h.engine.Tenant(ctx, h.tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, h.tenant.ID, tenant.ID)

	_, err = h.engine.Tenant(ctx, "missing")
	assert.ErrorIs(t, err, ErrTenantNotFound)

	h.tenant.Status = model.TenantSuspended
	require.NoError(t, h.store.SaveTenant(ctx, h.tenant))
	_, err = h.engine.Tenant(ctx, h.tenant.ID)
	assert.ErrorIs(t, err, ErrTenantDisabled)
}
