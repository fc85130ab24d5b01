package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRespondJSON(t *testing.T) {
	t.Parallel()

	recorder := httptest.NewRecorder()
	respondJSON(recorder, http.StatusOK, map[string]string{"message": "hello"})

	resp := recorder.Result()
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected Content-Type 'application/json', got '%s'", ct)
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if success, ok := body["success"].(bool); !ok || !success {
		t.Error("Expected success to be true")
	}
	if _, ok := body["timestamp"].(string); !ok {
		t.Error("Expected timestamp to be present")
	}
	data, ok := body["data"].(map[string]any)
	if !ok {
		t.Fatal("Expected data to be present")
	}
	if msg, ok := data["message"].(string); !ok || msg != "hello" {
		t.Errorf("Expected message 'hello', got %v", data["message"])
	}
}

func TestRespondJSONError(t *testing.T) {
	t.Parallel()

	recorder := httptest.NewRecorder()
	respondJSONError(recorder, http.StatusBadRequest, "Bad Request", "something was off")

	resp := recorder.Result()
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", resp.StatusCode)
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if success, ok := body["success"].(bool); !ok || success {
		t.Error("Expected success to be false")
	}
	if body["error"] != "Bad Request" {
		t.Errorf("Expected error 'Bad Request', got %v", body["error"])
	}
	if body["message"] != "something was off" {
		t.Errorf("Expected message to be carried through, got %v", body["message"])
	}
}

func TestSanitizeErrorMessage(t *testing.T) {
	t.Parallel()

	short := "a short message"
	if got := sanitizeErrorMessage(short); got != short {
		t.Errorf("Expected short message unchanged, got %q", got)
	}

	long := strings.Repeat("x", 300)
	got := sanitizeErrorMessage(long)
	if len(got) != 203 {
		t.Errorf("Expected truncation to 200 characters plus ellipsis, got length %d", len(got))
	}
	if !strings.HasSuffix(got, "...") {
		t.Error("Expected truncated message to end with an ellipsis")
	}
}
