package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/converso-ai/orchestration-platform/internal/model"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()

	mr := miniredis.RunT(t)
	return map[string]Store{
		"memory": NewMemoryStore(),
		"redis":  NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()})),
	}
}

func sampleConversation(id string) *model.Conversation {
	return &model.Conversation{
		ID:        id,
		TenantID:  "tenant-1",
		UserID:    "user-1",
		Channel:   "web",
		Status:    model.StatusActive,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
}

func TestTenantRoundTrip(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := store.GetTenant(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			threshold := -0.3
			tenant := &model.Tenant{
				ID:     "tenant-1",
				Name:   "Acme",
				Status: model.TenantActive,
				Config: model.TenantConfig{
					CompanyName:        "Acme",
					EnableAutoHandoff:  true,
					SentimentThreshold: &threshold,
					HandoffKeywords:    []string{"manager"},
				},
			}
			require.NoError(t, store.SaveTenant(ctx, tenant))

			got, err := store.GetTenant(ctx, "tenant-1")
			require.NoError(t, err)
			assert.Equal(t, "Acme", got.Name)
			require.NotNil(t, got.Config.SentimentThreshold)
			assert.Equal(t, -0.3, *got.Config.SentimentThreshold)
			assert.Equal(t, []string{"manager"}, got.Config.HandoffKeywords)

			all, err := store.ListTenants(ctx)
			require.NoError(t, err)
			assert.Len(t, all, 1)
		})
	}
}

func TestConversationRoundTrip(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := store.GetConversation(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			conv := sampleConversation("conv-1")
			conv.UpdateSentiment(-0.4)
			conv.Summaries = []model.ConversationSummary{{SummaryText: "intro", Start: 0, End: 15}}
			require.NoError(t, store.SaveConversation(ctx, conv))

			got, err := store.GetConversation(ctx, "conv-1")
			require.NoError(t, err)
			assert.Equal(t, conv.TenantID, got.TenantID)
			assert.Equal(t, []float64{-0.4}, got.SentimentHistory)
			require.Len(t, got.Summaries, 1)
			assert.Equal(t, 15, got.Summaries[0].End)
		})
	}
}

func TestGetConversationByUser(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := store.GetConversationByUser(ctx, "tenant-1", "user-1", "web")
			assert.ErrorIs(t, err, ErrNotFound)

			conv := sampleConversation("conv-1")
			require.NoError(t, store.SaveConversation(ctx, conv))

			got, err := store.GetConversationByUser(ctx, "tenant-1", "user-1", "web")
			require.NoError(t, err)
			assert.Equal(t, "conv-1", got.ID)

			// Other channel or user resolves nothing.
			_, err = store.GetConversationByUser(ctx, "tenant-1", "user-1", "sms")
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = store.GetConversationByUser(ctx, "tenant-1", "user-2", "web")
			assert.ErrorIs(t, err, ErrNotFound)

			// Terminal conversations stop resolving.
			conv.Status = model.StatusResolved
			require.NoError(t, store.SaveConversation(ctx, conv))
			_, err = store.GetConversationByUser(ctx, "tenant-1", "user-1", "web")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestListConversationsByStatus(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			active := sampleConversation("conv-1")
			require.NoError(t, store.SaveConversation(ctx, active))

			pending := sampleConversation("conv-2")
			pending.UserID = "user-2"
			pending.Status = model.StatusHandoffPending
			require.NoError(t, store.SaveConversation(ctx, pending))

			all, err := store.ListConversations(ctx, "tenant-1", "", 10)
			require.NoError(t, err)
			assert.Len(t, all, 2)

			onlyPending, err := store.ListConversations(ctx, "tenant-1", model.StatusHandoffPending, 10)
			require.NoError(t, err)
			require.Len(t, onlyPending, 1)
			assert.Equal(t, "conv-2", onlyPending[0].ID)

			none, err := store.ListConversations(ctx, "tenant-other", "", 10)
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestMessageTimeline(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			for i := 0; i < 6; i++ {
				dir := model.DirectionInbound
				if i%2 == 1 {
					dir = model.DirectionOutbound
				}
				require.NoError(t, store.SaveMessage(ctx, &model.Message{
					ID:             fmt.Sprintf("msg-%d", i),
					ConversationID: "conv-1",
					TenantID:       "tenant-1",
					Content:        fmt.Sprintf("message %d", i),
					Direction:      dir,
				}))
			}

			recent, err := store.GetRecentMessages(ctx, "conv-1", 4)
			require.NoError(t, err)
			require.Len(t, recent, 4)
			assert.Equal(t, "msg-2", recent[0].ID)
			assert.Equal(t, "msg-5", recent[3].ID)

			all, err := store.GetMessages(ctx, "conv-1", 0, "")
			require.NoError(t, err)
			assert.Len(t, all, 6)

			before, err := store.GetMessages(ctx, "conv-1", 2, "msg-4")
			require.NoError(t, err)
			require.Len(t, before, 2)
			assert.Equal(t, "msg-2", before[0].ID)
			assert.Equal(t, "msg-3", before[1].ID)

			empty, err := store.GetRecentMessages(ctx, "no-such-conv", 10)
			require.NoError(t, err)
			assert.Empty(t, empty)
		})
	}
}

func TestPing(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			assert.NoError(t, store.Ping(context.Background()))
		})
	}
}
