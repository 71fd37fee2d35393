package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/converso-ai/orchestration-platform/internal/model"
)

// RedisStore is a Redis-backed Store. Records are stored as JSON values;
// message timelines are append-only lists.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a store backed by the given Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	if client == nil {
		panic("storage: redis client cannot be nil")
	}
	return &RedisStore{client: client}
}

func tenantKey(id string) string          { return "tenant:" + id }
func conversationKey(id string) string    { return "conversation:" + id }
func messagesKey(convID string) string    { return "messages:" + convID }
func tenantListKey() string               { return "tenants" }
func conversationsKey(tenant string) string {
	return "conversations:" + tenant
}
func activeConvKey(tenant, user, channel string) string {
	return fmt.Sprintf("active_conversation:%s:%s:%s", tenant, user, channel)
}

// GetTenant retrieves a tenant by ID.
func (s *RedisStore) GetTenant(ctx context.Context, tenantID string) (*model.Tenant, error) {
	data, err := s.client.Get(ctx, tenantKey(tenantID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: failed to load tenant: %w", err)
	}
	var t model.Tenant
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("storage: failed to decode tenant: %w", err)
	}
	return &t, nil
}

// SaveTenant stores or updates a tenant.
func (s *RedisStore) SaveTenant(ctx context.Context, tenant *model.Tenant) error {
	data, err := json.Marshal(tenant)
	if err != nil {
		return fmt.Errorf("storage: failed to marshal tenant: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, tenantKey(tenant.ID), data, 0)
	pipe.SAdd(ctx, tenantListKey(), tenant.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("storage: failed to persist tenant: %w", err)
	}
	return nil
}

// ListTenants returns all tenants.
func (s *RedisStore) ListTenants(ctx context.Context) ([]model.Tenant, error) {
	ids, err := s.client.SMembers(ctx, tenantListKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("storage: failed to list tenants: %w", err)
	}
	out := make([]model.Tenant, 0, len(ids))
	for _, id := range ids {
		t, err := s.GetTenant(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, *t)
	}
	return out, nil
}

// GetConversation retrieves a conversation by ID.
func (s *RedisStore) GetConversation(ctx context.Context, conversationID string) (*model.Conversation, error) {
	data, err := s.client.Get(ctx, conversationKey(conversationID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: failed to load conversation: %w", err)
	}
	var c model.Conversation
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("storage: failed to decode conversation: %w", err)
	}
	return &c, nil
}

// GetConversationByUser returns the active conversation pointer for a
// tenant/user/channel triple.
func (s *RedisStore) GetConversationByUser(ctx context.Context, tenantID, userID, channel string) (*model.Conversation, error) {
	id, err := s.client.Get(ctx, activeConvKey(tenantID, userID, channel)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: failed to resolve active conversation: %w", err)
	}
	return s.GetConversation(ctx, id)
}

// SaveConversation stores a consistent snapshot of a conversation and
// maintains the active-conversation pointer for its user.
func (s *RedisStore) SaveConversation(ctx context.Context, conv *model.Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("storage: failed to marshal conversation: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, conversationKey(conv.ID), data, 0)
	pipe.SAdd(ctx, conversationsKey(conv.TenantID), conv.ID)

	ptr := activeConvKey(conv.TenantID, conv.UserID, conv.Channel)
	if conv.Status == model.StatusResolved || conv.Status == model.StatusExpired {
		pipe.Del(ctx, ptr)
	} else {
		pipe.Set(ctx, ptr, conv.ID, 0)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("storage: failed to persist conversation: %w", err)
	}
	return nil
}

// ListConversations returns up to limit conversations for a tenant,
// optionally filtered by status.
func (s *RedisStore) ListConversations(ctx context.Context, tenantID string, status model.ConversationStatus, limit int) ([]model.Conversation, error) {
	ids, err := s.client.SMembers(ctx, conversationsKey(tenantID)).Result()
	if err != nil {
		return nil, fmt.Errorf("storage: failed to list conversations: %w", err)
	}
	var out []model.Conversation
	for _, id := range ids {
		c, err := s.GetConversation(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		if status != "" && c.Status != status {
			continue
		}
		out = append(out, *c)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// SaveMessage appends a message to its conversation timeline.
func (s *RedisStore) SaveMessage(ctx context.Context, msg *model.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("storage: failed to marshal message: %w", err)
	}
	if err := s.client.RPush(ctx, messagesKey(msg.ConversationID), data).Err(); err != nil {
		return fmt.Errorf("storage: failed to persist message: %w", err)
	}
	return nil
}

// GetRecentMessages returns the most recent limit messages, oldest first.
func (s *RedisStore) GetRecentMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	raw, err := s.client.LRange(ctx, messagesKey(conversationID), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("storage: failed to load messages: %w", err)
	}
	return decodeMessages(raw)
}

// GetMessages returns up to limit messages, oldest first, optionally only
// those created before the message with beforeID.
func (s *RedisStore) GetMessages(ctx context.Context, conversationID string, limit int, beforeID string) ([]model.Message, error) {
	raw, err := s.client.LRange(ctx, messagesKey(conversationID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("storage: failed to load messages: %w", err)
	}
	msgs, err := decodeMessages(raw)
	if err != nil {
		return nil, err
	}
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
	return msgs, nil
}

// Ping reports storage health.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func decodeMessages(raw []string) ([]model.Message, error) {
	out := make([]model.Message, 0, len(raw))
	for _, r := range raw {
		var m model.Message
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			return nil, fmt.Errorf("storage: failed to decode message: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}
