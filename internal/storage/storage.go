// Package storage defines the persistence contract for tenants,
// conversations, and messages, with swappable backends.
package storage

import (
	"context"
	"errors"

	"github.com/converso-ai/orchestration-platform/internal/model"
)

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("storage: not found")
)

// Store is the persistence contract consumed by the orchestration engine.
// All operations are tenant-scoped by the caller.
type Store interface {
	// Tenants
	GetTenant(ctx context.Context, tenantID string) (*model.Tenant, error)
	SaveTenant(ctx context.Context, tenant *model.Tenant) error
	ListTenants(ctx context.Context) ([]model.Tenant, error)

	// Conversations
	GetConversation(ctx context.Context, conversationID string) (*model.Conversation, error)
	GetConversationByUser(ctx context.Context, tenantID, userID, channel string) (*model.Conversation, error)
	SaveConversation(ctx context.Context, conv *model.Conversation) error
	ListConversations(ctx context.Context, tenantID string, status model.ConversationStatus, limit int) ([]model.Conversation, error)

	// Messages
	SaveMessage(ctx context.Context, msg *model.Message) error
	GetRecentMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error)
	GetMessages(ctx context.Context, conversationID string, limit int, beforeID string) ([]model.Message, error)

	// Health
	Ping(ctx context.Context) error
}
