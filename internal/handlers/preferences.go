package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/parleybot/parley/internal/database"
)

// PreferenceHandler handles user preference requests
type PreferenceHandler struct {
	repo     database.PreferenceRepositoryInterface
	validate *validator.Validate
	logger   *zap.Logger
}

// NewPreferenceHandler creates a new preference handler
func NewPreferenceHandler(repo database.PreferenceRepositoryInterface, logger *zap.Logger) *PreferenceHandler {
	return &PreferenceHandler{
		repo:     repo,
		validate: validator.New(),
		logger:   logger,
	}
}

// Get handles GET /api/v1/preferences/{userID}. Unknown users get defaults.
func (h *PreferenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]
	if userID == "" {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "user id is required")
		return
	}

	pref, err := h.repo.GetOrCreate(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to load preferences", zap.Error(err))
		respondJSONError(w, http.StatusInternalServerError, "Internal Server Error", "Failed to load preferences")
		return
	}

	respondJSON(w, http.StatusOK, pref)
}

// updatePreferencesRequest carries the editable preference fields
type updatePreferencesRequest struct {
	Tone              *string `json:"tone" validate:"omitempty,oneof=friendly professional casual playful"`
	EmojiDensity      *string `json:"emoji_density" validate:"omitempty,oneof=none moderate heavy"`
	ContextWindowSize *int    `json:"context_window_size" validate:"omitempty,min=1,max=50"`
	Language          *string `json:"language" validate:"omitempty,bcp47_language_tag"`
}

// Update handles PATCH /api/v1/preferences/{userID}
func (h *PreferenceHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]
	if userID == "" {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "user id is required")
		return
	}

	var req updatePreferencesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "Invalid JSON body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}

	pref, err := h.repo.GetOrCreate(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to load preferences", zap.Error(err))
		respondJSONError(w, http.StatusInternalServerError, "Internal Server Error", "Failed to load preferences")
		return
	}

	if req.Tone != nil {
		pref.Tone = *req.Tone
	}
	if req.EmojiDensity != nil {
		pref.EmojiDensity = *req.EmojiDensity
	}
	if req.ContextWindowSize != nil {
		pref.ContextWindowSize = *req.ContextWindowSize
	}
	if req.Language != nil {
		pref.Language = *req.Language
	}

	if err := h.repo.Update(r.Context(), pref); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondJSONError(w, http.StatusNotFound, "Not Found", "User has no preferences")
			return
		}
		h.logger.Error("failed to update preferences", zap.Error(err))
		respondJSONError(w, http.StatusInternalServerError, "Internal Server Error", "Failed to update preferences")
		return
	}

	respondJSON(w, http.StatusOK, pref)
}
