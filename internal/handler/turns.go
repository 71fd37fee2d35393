// Package handler provides HTTP handlers for the API.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/converso-ai/orchestration-platform/internal/engine"
	"github.com/converso-ai/orchestration-platform/internal/middleware"
	"github.com/converso-ai/orchestration-platform/internal/model"
	"github.com/converso-ai/orchestration-platform/pkg/logger"
)

// TurnHandler ingests normalized inbound messages from channel adapters and
// runs them through the orchestration engine.
type TurnHandler struct {
	engine *engine.Engine
	logger *logger.Logger
}

// NewTurnHandler creates a new turn handler.
func NewTurnHandler(eng *engine.Engine, log *logger.Logger) *TurnHandler {
	return &TurnHandler{
		engine: eng,
		logger: log,
	}
}

// Create handles POST /api/v1/turns
func (h *TurnHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)

	var req model.TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateUserID(req.UserID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateChannel(req.Channel); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tenant, err := h.engine.Tenant(ctx, tenantID)
	if err != nil {
		h.writeTenantError(w, err)
		return
	}

	conv, err := h.engine.GetOrCreateConversation(ctx, tenant, req.UserID, req.Channel)
	if err != nil {
		h.logger.Error("failed to resolve conversation", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to resolve conversation")
		return
	}

	resp, err := h.engine.ProcessTurn(ctx, tenant, conv.ID, &req)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrConversationNotFound):
			writeError(w, http.StatusNotFound, "conversation not found")
		case errors.Is(err, engine.ErrGenerationFailed):
			fallback := tenant.Config.FallbackMessage
			if fallback == "" {
				fallback = "I'm sorry, something went wrong. Please try again in a moment."
			}
			writeJSON(w, http.StatusBadGateway, map[string]string{
				"error":            "response generation failed",
				"fallback_message": fallback,
			})
		default:
			h.logger.Error("turn processing failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "turn processing failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *TurnHandler) writeTenantError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrTenantNotFound):
		writeError(w, http.StatusNotFound, "tenant not found")
	case errors.Is(err, engine.ErrTenantDisabled):
		writeError(w, http.StatusForbidden, "tenant is disabled")
	default:
		h.logger.Error("failed to load tenant", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load tenant")
	}
}
