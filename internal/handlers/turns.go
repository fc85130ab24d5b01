package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/parleybot/parley/internal/session"
	"github.com/parleybot/parley/internal/turn"
)

// TurnHandler handles conversation turn requests
type TurnHandler struct {
	processor *turn.Processor
	store     *session.Store
	validate  *validator.Validate
	logger    *zap.Logger
}

// NewTurnHandler creates a new turn handler
func NewTurnHandler(processor *turn.Processor, store *session.Store, logger *zap.Logger) *TurnHandler {
	return &TurnHandler{
		processor: processor,
		store:     store,
		validate:  validator.New(),
		logger:    logger,
	}
}

// ProcessTurn handles POST /api/v1/turns
func (h *TurnHandler) ProcessTurn(w http.ResponseWriter, r *http.Request) {
	var req turn.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "Invalid JSON body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}

	result, err := h.processor.ProcessTurn(r.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, turn.ErrEmptyMessage):
			respondJSONError(w, http.StatusBadRequest, "Bad Request", "Message content is empty")
		case errors.Is(err, session.ErrMessageTooLong):
			respondJSONError(w, http.StatusBadRequest, "Bad Request", "Message content exceeds the maximum length")
		case errors.Is(err, turn.ErrTurnTimeout):
			respondJSONError(w, http.StatusGatewayTimeout, "Timeout", "The turn took too long to process")
		case errors.Is(err, session.ErrDurableStoreUnavailable):
			h.logger.Error("turn failed, durable store unavailable", zap.Error(err))
			respondJSONError(w, http.StatusServiceUnavailable, "Service Unavailable", "Storage is temporarily unavailable")
		default:
			h.logger.Error("turn processing failed", zap.Error(err))
			respondJSONError(w, http.StatusInternalServerError, "Internal Server Error", "Failed to process the turn")
		}
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// endSessionRequest identifies the conversation to close
type endSessionRequest struct {
	UserID    string `json:"user_id" validate:"required,max=128"`
	ChannelID string `json:"channel_id" validate:"required,max=128"`
}

// EndSession handles POST /api/v1/sessions/end. Closing when no session is
// active succeeds with an empty summary.
func (h *TurnHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	var req endSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "Invalid JSON body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}

	sess, created, err := h.store.ResolveOrCreate(r.Context(), req.UserID, req.ChannelID)
	if err != nil {
		h.logger.Error("failed to resolve session", zap.Error(err))
		respondJSONError(w, http.StatusServiceUnavailable, "Service Unavailable", "Storage is temporarily unavailable")
		return
	}
	if created {
		// Nothing was active; close the freshly created session quietly
		if _, err := h.store.EndSession(r.Context(), sess); err != nil {
			h.logger.Warn("failed to end placeholder session", zap.Error(err))
		}
		respondJSON(w, http.StatusOK, map[string]any{"ended": false})
		return
	}

	summary, err := h.store.EndSession(r.Context(), sess)
	if err != nil {
		h.logger.Error("failed to end session", zap.Error(err))
		respondJSONError(w, http.StatusServiceUnavailable, "Service Unavailable", "Storage is temporarily unavailable")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"ended":   true,
		"summary": summary,
	})
}
