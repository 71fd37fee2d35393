package storage

import (
	"context"
	"sync"

	"github.com/converso-ai/orchestration-platform/internal/model"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu            sync.RWMutex
	tenants       map[string]*model.Tenant
	conversations map[string]*model.Conversation
	messages      map[string][]model.Message // conversationID -> chronological
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants:       make(map[string]*model.Tenant),
		conversations: make(map[string]*model.Conversation),
		messages:      make(map[string][]model.Message),
	}
}

// GetTenant retrieves a tenant by ID.
func (s *MemoryStore) GetTenant(ctx context.Context, tenantID string) (*model.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tenants[tenantID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

// SaveTenant stores or updates a tenant.
func (s *MemoryStore) SaveTenant(ctx context.Context, tenant *model.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *tenant
	s.tenants[tenant.ID] = &cp
	return nil
}

// ListTenants returns all tenants.
func (s *MemoryStore) ListTenants(ctx context.Context) ([]model.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Tenant, 0, len(s.tenants))
	for _, t := range s.tenants {
		out = append(out, *t)
	}
	return out, nil
}

// GetConversation retrieves a conversation by ID.
func (s *MemoryStore) GetConversation(ctx context.Context, conversationID string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.conversations[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := cloneConversation(c)
	return cp, nil
}

// GetConversationByUser returns the most recent non-terminal conversation for
// a tenant/user/channel triple.
func (s *MemoryStore) GetConversationByUser(ctx context.Context, tenantID, userID, channel string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *model.Conversation
	for _, c := range s.conversations {
		if c.TenantID != tenantID || c.UserID != userID || c.Channel != channel {
			continue
		}
		if c.Status == model.StatusResolved || c.Status == model.StatusExpired {
			continue
		}
		if best == nil || c.CreatedAt.After(best.CreatedAt) {
			best = c
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return cloneConversation(best), nil
}

// SaveConversation stores a consistent snapshot of a conversation.
func (s *MemoryStore) SaveConversation(ctx context.Context, conv *model.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conversations[conv.ID] = cloneConversation(conv)
	return nil
}

// ListConversations returns up to limit conversations for a tenant,
// optionally filtered by status.
func (s *MemoryStore) ListConversations(ctx context.Context, tenantID string, status model.ConversationStatus, limit int) ([]model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Conversation
	for _, c := range s.conversations {
		if c.TenantID != tenantID {
			continue
		}
		if status != "" && c.Status != status {
			continue
		}
		out = append(out, *cloneConversation(c))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// SaveMessage appends a message to its conversation timeline.
func (s *MemoryStore) SaveMessage(ctx context.Context, msg *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], *msg)
	return nil
}

// GetRecentMessages returns the most recent limit messages, oldest first.
func (s *MemoryStore) GetRecentMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]model.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// GetMessages returns up to limit messages, oldest first, optionally only
// those created before the message with beforeID.
func (s *MemoryStore) GetMessages(ctx context.Context, conversationID string, limit int, beforeID string) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[conversationID]
	if beforeID != "" {
		for i, m := range msgs {
			if m.ID == beforeID {
				msgs = msgs[:i]
				break
			}
		}
	}
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]model.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// Ping reports storage health.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func cloneConversation(c *model.Conversation) *model.Conversation {
	cp := *c
	cp.SentimentHistory = append([]float64(nil), c.SentimentHistory...)
	cp.Summaries = append([]model.ConversationSummary(nil), c.Summaries...)
	if c.Metadata != nil {
		cp.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
