package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/repochat/internal/middleware"
	"github.com/capitalize-ai/repochat/internal/service"
	"github.com/capitalize-ai/repochat/pkg/logger"
)

// HistoryHandler serves conversation history and the sidebar summaries.
type HistoryHandler struct {
	conversations *service.ConversationService
	logger        *logger.Logger
}

// NewHistoryHandler creates a new history handler.
func NewHistoryHandler(svc *service.ConversationService, log *logger.Logger) *HistoryHandler {
	return &HistoryHandler{
		conversations: svc,
		logger:        log,
	}
}

// History handles GET /chat/{id}/history
func (h *HistoryHandler) History(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	history, err := h.conversations.History(ctx, middleware.GetUserID(ctx), conversationID)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusNotFound {
			writeError(w, status, "conversation not found")
			return
		}
		h.logger.Error("failed to load history", zap.String("conversation_id", conversationID), zap.Error(err))
		writeError(w, status, "failed to load history")
		return
	}

	writeJSON(w, http.StatusOK, history)
}

// Summaries handles GET /chat/history
func (h *HistoryHandler) Summaries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	summaries, err := h.conversations.Summaries(ctx, middleware.GetUserID(ctx))
	if err != nil {
		h.logger.Error("failed to list conversations", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}

	writeJSON(w, http.StatusOK, summaries)
}
