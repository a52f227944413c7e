package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/capitalize-ai/repochat/internal/middleware"
	"github.com/capitalize-ai/repochat/internal/model"
	"github.com/capitalize-ai/repochat/internal/service"
	"github.com/capitalize-ai/repochat/pkg/logger"
	"github.com/capitalize-ai/repochat/pkg/metrics"
	"github.com/capitalize-ai/repochat/pkg/tracing"
)

// QueryHandler streams answers to user turns.
type QueryHandler struct {
	queries *service.QueryService
	logger  *logger.Logger
}

// NewQueryHandler creates a new query handler.
func NewQueryHandler(svc *service.QueryService, log *logger.Logger) *QueryHandler {
	return &QueryHandler{
		queries: svc,
		logger:  log,
	}
}

// Query handles POST /chat/query
//
// The response is a sequence of "data: <json>" lines: one in_progress event
// per generated fragment, then one updated_history event carrying the stored
// assistant message id. A generation failure after the first byte aborts the
// connection so the client sees a transport error rather than a clean end.
func (h *QueryHandler) Query(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.Tracer("repochat/handler").Start(r.Context(), "chat.query")
	defer span.End()

	userID := middleware.GetUserID(ctx)

	var req model.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateQuery(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ex, err := h.queries.Begin(ctx, userID, &req)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("failed to accept query", zap.Error(err))
		}
		writeError(w, status, err.Error())
		return
	}

	log := h.logger.WithConversation(req.RepositoryID, ex.Conversation.ID).With(
		zap.String("correlation_id", middleware.GetCorrelationID(ctx)),
	)
	span.SetAttributes(
		attribute.String("conversation.id", ex.Conversation.ID),
		attribute.String("repository.id", req.RepositoryID),
	)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	metrics.IncrementQueryStreams()
	defer metrics.DecrementQueryStreams()

	reply, err := ex.Answer(ctx, func(text string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return writeEvent(w, flusher, model.NewDeltaEvent(text))
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "answer failed")
		log.Warn("query stream aborted", zap.Error(err))
		panic(http.ErrAbortHandler)
	}

	if err := writeEvent(w, flusher, model.NewHistoryEvent(reply.ID)); err != nil {
		log.Warn("failed to write updated_history event", zap.Error(err))
		return
	}

	log.Info("query answered",
		zap.String("user_message_id", ex.User.ID),
		zap.String("assistant_message_id", reply.ID),
	)
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, ev model.StreamEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "%s %s\n\n", model.EventMarker, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
