package queue

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/parleybot/parley/internal/models"
)

func TestPersistSessionJobRoundtrip(t *testing.T) {
	t.Parallel()

	session := models.NewSession("user-1", "channel-1")
	session.MessageCount = 3

	job, err := NewPersistSessionJob(session)
	if err != nil {
		t.Fatalf("Failed to create job: %v", err)
	}
	if job.Type != JobTypePersistSession {
		t.Errorf("Expected type %s, got %s", JobTypePersistSession, job.Type)
	}

	decoded, err := job.SessionPayload()
	if err != nil {
		t.Fatalf("Failed to decode payload: %v", err)
	}
	if decoded.ID != session.ID {
		t.Errorf("Expected session %s, got %s", session.ID, decoded.ID)
	}
	if decoded.MessageCount != 3 {
		t.Errorf("Expected message count 3, got %d", decoded.MessageCount)
	}
}

func TestPersistMessageJobRoundtrip(t *testing.T) {
	t.Parallel()

	message := models.NewUserMessage(uuid.New(), "hello", models.IntentGetHelp, 0.8)

	job, err := NewPersistMessageJob(message)
	if err != nil {
		t.Fatalf("Failed to create job: %v", err)
	}

	decoded, err := job.MessagePayload()
	if err != nil {
		t.Fatalf("Failed to decode payload: %v", err)
	}
	if decoded.ID != message.ID || decoded.Content != "hello" {
		t.Errorf("Unexpected decoded message: %+v", decoded)
	}
	if decoded.IntentType == nil || *decoded.IntentType != string(models.IntentGetHelp) {
		t.Error("Expected the intent to survive the roundtrip")
	}
}

func TestEndSessionJobRoundtrip(t *testing.T) {
	t.Parallel()

	sessionID := uuid.New()
	job, err := NewEndSessionJob(sessionID)
	if err != nil {
		t.Fatalf("Failed to create job: %v", err)
	}

	payload, err := job.EndSessionPayload()
	if err != nil {
		t.Fatalf("Failed to decode payload: %v", err)
	}
	if payload.SessionID != sessionID {
		t.Errorf("Expected session %s, got %s", sessionID, payload.SessionID)
	}
}

func TestJobShouldProcess(t *testing.T) {
	t.Parallel()

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	tests := []struct {
		name      string
		notBefore *time.Time
		notAfter  *time.Time
		expected  bool
	}{
		{name: "no window", expected: true},
		{name: "not yet due", notBefore: &future, expected: false},
		{name: "due", notBefore: &past, expected: true},
		{name: "expired", notAfter: &past, expected: false},
		{name: "within window", notBefore: &past, notAfter: &future, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			job := &Job{NotBefore: tt.notBefore, NotAfter: tt.notAfter}
			if got := job.ShouldProcess(); got != tt.expected {
				t.Errorf("Expected ShouldProcess=%v, got %v", tt.expected, got)
			}
		})
	}
}

func TestJobRetryBudget(t *testing.T) {
	t.Parallel()

	job, err := NewEndSessionJob(uuid.New())
	if err != nil {
		t.Fatalf("Failed to create job: %v", err)
	}

	retries := 0
	for job.CanRetry() {
		job.IncrementRetry()
		retries++
		if retries > 10 {
			t.Fatal("Retry budget never exhausted")
		}
	}
	if retries != job.MaxRetries {
		t.Errorf("Expected %d retries, got %d", job.MaxRetries, retries)
	}
}

func TestJobIsExpired(t *testing.T) {
	t.Parallel()

	job := &Job{}
	if job.IsExpired() {
		t.Error("Expected job without NotAfter to never expire")
	}

	past := time.Now().Add(-time.Minute)
	job.NotAfter = &past
	if !job.IsExpired() {
		t.Error("Expected job past NotAfter to be expired")
	}

	// A deadline still in the future must not count as expired; the consumer
	// drops expired jobs and processes everything else
	future := time.Now().Add(time.Hour)
	job.NotAfter = &future
	if job.IsExpired() {
		t.Error("Expected job with future NotAfter to not be expired")
	}
	if !job.ShouldProcess() {
		t.Error("Expected job with future NotAfter to be processable")
	}
}
