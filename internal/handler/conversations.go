package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/converso-ai/orchestration-platform/internal/engine"
	"github.com/converso-ai/orchestration-platform/internal/middleware"
	"github.com/converso-ai/orchestration-platform/internal/model"
	"github.com/converso-ai/orchestration-platform/internal/storage"
	"github.com/converso-ai/orchestration-platform/pkg/logger"
)

// ConversationHandler handles conversation endpoints.
type ConversationHandler struct {
	engine *engine.Engine
	store  storage.Store
	logger *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(eng *engine.Engine, store storage.Store, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		engine: eng,
		store:  store,
		logger: log,
	}
}

// List handles GET /api/v1/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)

	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}
	status := model.ConversationStatus(r.URL.Query().Get("status"))

	convs, err := h.store.ListConversations(ctx, tenantID, status, limit)
	if err != nil {
		h.logger.Error("failed to list conversations", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}

	writeJSON(w, http.StatusOK, model.ListConversationsResponse{
		Conversations: convs,
		Total:         len(convs),
		HasMore:       len(convs) == limit,
	})
}

// Get handles GET /api/v1/conversations/:id
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.loadOwned(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// Messages handles GET /api/v1/conversations/:id/messages
func (h *ConversationHandler) Messages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conv, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}
	beforeID := r.URL.Query().Get("before")

	msgs, err := h.store.GetMessages(ctx, conv.ID, limit, beforeID)
	if err != nil {
		h.logger.Error("failed to load messages", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}

	writeJSON(w, http.StatusOK, model.ListMessagesResponse{
		Messages: msgs,
		HasMore:  len(msgs) == limit,
	})
}

// Resolve handles POST /api/v1/conversations/:id/resolve
func (h *ConversationHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)
	conv, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}

	tenant, err := h.engine.Tenant(ctx, tenantID)
	if err != nil {
		writeError(w, http.StatusNotFound, "tenant not found")
		return
	}

	resolved, err := h.engine.Resolve(ctx, tenant, conv.ID, req.Reason)
	if err != nil {
		h.logger.Error("failed to resolve conversation", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to resolve conversation")
		return
	}

	writeJSON(w, http.StatusOK, resolved)
}

// Assign handles POST /api/v1/conversations/:id/assign
func (h *ConversationHandler) Assign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conv, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	var req struct {
		AgentID string `json:"agent_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AgentID == "" {
		writeError(w, http.StatusBadRequest, "agent_id is required")
		return
	}

	assigned, err := h.engine.AssignAgent(ctx, conv.ID, req.AgentID)
	if err != nil {
		if errors.Is(err, engine.ErrConversationNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, assigned)
}

// Resume handles POST /api/v1/conversations/:id/resume
func (h *ConversationHandler) Resume(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conv, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	resumed, err := h.engine.ResumeFromHandoff(ctx, conv.ID)
	if err != nil {
		if errors.Is(err, engine.ErrConversationNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, resumed)
}

// loadOwned loads the conversation from the URL and verifies tenant
// ownership. It writes the error response itself on failure.
func (h *ConversationHandler) loadOwned(w http.ResponseWriter, r *http.Request) (*model.Conversation, bool) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}

	conv, err := h.store.GetConversation(ctx, conversationID)
	if err != nil || conv.TenantID != tenantID {
		writeError(w, http.StatusNotFound, "conversation not found")
		return nil, false
	}
	return conv, true
}
