package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/parleybot/parley/internal/database"
	"github.com/parleybot/parley/internal/models"
)

type fakePrefRepo struct {
	mu    sync.Mutex
	prefs map[string]*models.UserPreference
	fail  bool
}

func newFakePrefRepo() *fakePrefRepo {
	return &fakePrefRepo{prefs: make(map[string]*models.UserPreference)}
}

func (r *fakePrefRepo) GetOrCreate(_ context.Context, userID string) (*models.UserPreference, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return nil, errors.New("database down")
	}
	if pref, ok := r.prefs[userID]; ok {
		copied := *pref
		return &copied, nil
	}
	pref := models.DefaultPreference(userID)
	r.prefs[userID] = pref
	copied := *pref
	return &copied, nil
}

func (r *fakePrefRepo) Update(_ context.Context, pref *models.UserPreference) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("database down")
	}
	if _, ok := r.prefs[pref.UserID]; !ok {
		return database.ErrNotFound
	}
	copied := *pref
	r.prefs[pref.UserID] = &copied
	return nil
}

func newPreferenceRouter(repo database.PreferenceRepositoryInterface) *mux.Router {
	handler := NewPreferenceHandler(repo, zap.NewNop())
	r := mux.NewRouter()
	r.HandleFunc("/preferences/{userID}", handler.Get).Methods("GET")
	r.HandleFunc("/preferences/{userID}", handler.Update).Methods("PATCH")
	return r
}

func TestGetPreferencesReturnsDefaults(t *testing.T) {
	t.Parallel()

	router := newPreferenceRouter(newFakePrefRepo())

	req := httptest.NewRequest(http.MethodGet, "/preferences/user-1", nil)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", recorder.Code)
	}

	var body struct {
		Data models.UserPreference `json:"data"`
	}
	if err := json.NewDecoder(recorder.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if body.Data.Tone != models.DefaultTone {
		t.Errorf("Expected default tone, got '%s'", body.Data.Tone)
	}
	if body.Data.ContextWindowSize != models.DefaultContextWindowSize {
		t.Errorf("Expected default window size, got %d", body.Data.ContextWindowSize)
	}
}

func TestUpdatePreferences(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		body           string
		expectedStatus int
		validate       func(*testing.T, *fakePrefRepo)
	}{
		{
			name:           "update tone only",
			body:           `{"tone":"professional"}`,
			expectedStatus: http.StatusOK,
			validate: func(t *testing.T, repo *fakePrefRepo) {
				pref := repo.prefs["user-1"]
				if pref.Tone != "professional" {
					t.Errorf("Expected tone updated, got '%s'", pref.Tone)
				}
				// Untouched fields keep their values
				if pref.EmojiDensity != models.DefaultEmojiDensity {
					t.Errorf("Expected emoji density unchanged, got '%s'", pref.EmojiDensity)
				}
			},
		},
		{
			name:           "update all fields",
			body:           `{"tone":"playful","emoji_density":"heavy","context_window_size":20,"language":"fr"}`,
			expectedStatus: http.StatusOK,
			validate: func(t *testing.T, repo *fakePrefRepo) {
				pref := repo.prefs["user-1"]
				if pref.Tone != "playful" || pref.EmojiDensity != "heavy" || pref.ContextWindowSize != 20 || pref.Language != "fr" {
					t.Errorf("Expected all fields updated, got %+v", pref)
				}
			},
		},
		{
			name:           "invalid tone rejected",
			body:           `{"tone":"sarcastic"}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "window size out of range",
			body:           `{"context_window_size":500}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "invalid json",
			body:           `{"tone":`,
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			repo := newFakePrefRepo()
			router := newPreferenceRouter(repo)

			req := httptest.NewRequest(http.MethodPatch, "/preferences/user-1", bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")
			recorder := httptest.NewRecorder()
			router.ServeHTTP(recorder, req)

			if recorder.Code != tt.expectedStatus {
				t.Fatalf("Expected status %d, got %d: %s", tt.expectedStatus, recorder.Code, recorder.Body.String())
			}
			if tt.validate != nil {
				tt.validate(t, repo)
			}
		})
	}
}

func TestGetPreferencesDatabaseDown(t *testing.T) {
	t.Parallel()

	repo := newFakePrefRepo()
	repo.fail = true
	router := newPreferenceRouter(repo)

	req := httptest.NewRequest(http.MethodGet, "/preferences/user-1", nil)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", recorder.Code)
	}
}
