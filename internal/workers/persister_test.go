package workers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/parleybot/parley/internal/database"
	"github.com/parleybot/parley/internal/models"
	"github.com/parleybot/parley/internal/queue"
)

type recordingSessionRepo struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*models.Session
	failAll  bool
}

func newRecordingSessionRepo() *recordingSessionRepo {
	return &recordingSessionRepo{sessions: make(map[uuid.UUID]*models.Session)}
}

func (r *recordingSessionRepo) Upsert(_ context.Context, s *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll {
		return errors.New("database down")
	}
	copied := *s
	r.sessions[s.ID] = &copied
	return nil
}

func (r *recordingSessionRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		copied := *s
		return &copied, nil
	}
	return nil, database.ErrNotFound
}

func (r *recordingSessionRepo) GetActive(context.Context, string, string) (*models.Session, error) {
	return nil, database.ErrNotFound
}

func (r *recordingSessionRepo) Touch(context.Context, uuid.UUID, time.Time, int) error {
	return nil
}

func (r *recordingSessionRepo) End(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll {
		return errors.New("database down")
	}
	if s, ok := r.sessions[id]; ok {
		s.Status = models.SessionStatusEnded
	}
	return nil
}

func (r *recordingSessionRepo) ListIdleActive(context.Context, time.Time, int) ([]*models.Session, error) {
	return nil, nil
}

type recordingMessageRepo struct {
	mu       sync.Mutex
	messages []*models.Message
}

func (r *recordingMessageRepo) Create(_ context.Context, m *models.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, m)
	return nil
}

func (r *recordingMessageRepo) GetRecentBySession(context.Context, uuid.UUID, int) ([]*models.Message, error) {
	return nil, nil
}

func (r *recordingMessageRepo) CountBySession(context.Context, uuid.UUID) (int, int, error) {
	return 0, 0, nil
}

func TestProcessJobPersistSession(t *testing.T) {
	t.Parallel()

	sessions := newRecordingSessionRepo()
	p := NewPersister(sessions, &recordingMessageRepo{}, nil, zap.NewNop())

	session := models.NewSession("user-1", "channel-1")
	session.MessageCount = 2
	job, err := queue.NewPersistSessionJob(session)
	if err != nil {
		t.Fatalf("Failed to create job: %v", err)
	}

	if err := p.ProcessJob(context.Background(), job); err != nil {
		t.Fatalf("Failed to process job: %v", err)
	}

	stored, err := sessions.GetByID(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("Session was not persisted: %v", err)
	}
	if stored.MessageCount != 2 {
		t.Errorf("Expected message count 2, got %d", stored.MessageCount)
	}

	// Redelivery is harmless
	if err := p.ProcessJob(context.Background(), job); err != nil {
		t.Errorf("Expected redelivery to succeed, got %v", err)
	}
}

func TestProcessJobPersistMessage(t *testing.T) {
	t.Parallel()

	messages := &recordingMessageRepo{}
	p := NewPersister(newRecordingSessionRepo(), messages, nil, zap.NewNop())

	message := models.NewUserMessage(uuid.New(), "hello", models.IntentGetHelp, 0.8)
	job, err := queue.NewPersistMessageJob(message)
	if err != nil {
		t.Fatalf("Failed to create job: %v", err)
	}

	if err := p.ProcessJob(context.Background(), job); err != nil {
		t.Fatalf("Failed to process job: %v", err)
	}
	if len(messages.messages) != 1 || messages.messages[0].Content != "hello" {
		t.Errorf("Expected the message to be persisted, got %+v", messages.messages)
	}
}

func TestProcessJobEndSession(t *testing.T) {
	t.Parallel()

	sessions := newRecordingSessionRepo()
	p := NewPersister(sessions, &recordingMessageRepo{}, nil, zap.NewNop())

	session := models.NewSession("user-1", "channel-1")
	if err := sessions.Upsert(context.Background(), session); err != nil {
		t.Fatalf("Failed to seed session: %v", err)
	}

	job, err := queue.NewEndSessionJob(session.ID)
	if err != nil {
		t.Fatalf("Failed to create job: %v", err)
	}
	if err := p.ProcessJob(context.Background(), job); err != nil {
		t.Fatalf("Failed to process job: %v", err)
	}

	stored, err := sessions.GetByID(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("Failed to read session: %v", err)
	}
	if stored.Status != models.SessionStatusEnded {
		t.Errorf("Expected ended status, got %s", stored.Status)
	}
}

func TestProcessJobFailuresSurface(t *testing.T) {
	t.Parallel()

	sessions := newRecordingSessionRepo()
	sessions.failAll = true
	p := NewPersister(sessions, &recordingMessageRepo{}, nil, zap.NewNop())

	job, err := queue.NewPersistSessionJob(models.NewSession("user-1", "channel-1"))
	if err != nil {
		t.Fatalf("Failed to create job: %v", err)
	}
	if err := p.ProcessJob(context.Background(), job); err == nil {
		t.Error("Expected error when the database is down")
	}
}

func TestProcessJobUnknownType(t *testing.T) {
	t.Parallel()

	p := NewPersister(newRecordingSessionRepo(), &recordingMessageRepo{}, nil, zap.NewNop())

	job := &queue.Job{ID: uuid.New(), Type: "reticulate_splines"}
	if err := p.ProcessJob(context.Background(), job); err == nil {
		t.Error("Expected error for unknown job type")
	}
}

func TestProcessJobMalformedPayload(t *testing.T) {
	t.Parallel()

	p := NewPersister(newRecordingSessionRepo(), &recordingMessageRepo{}, nil, zap.NewNop())

	job := &queue.Job{ID: uuid.New(), Type: queue.JobTypeEndSession, Payload: []byte("not json")}
	if err := p.ProcessJob(context.Background(), job); err == nil {
		t.Error("Expected error for malformed payload")
	}
}

func TestRetryDelayBounds(t *testing.T) {
	t.Parallel()

	if d := retryDelay(0); d != 2*time.Second {
		t.Errorf("Expected 2s floor, got %v", d)
	}
	if d := retryDelay(3); d != 8*time.Second {
		t.Errorf("Expected 8s for attempt 3, got %v", d)
	}
	if d := retryDelay(20); d != 64*time.Second {
		t.Errorf("Expected 64s ceiling, got %v", d)
	}
}
