package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/parleybot/parley/internal/models"
)

// JobType represents the type of job
type JobType string

const (
	// JobTypePersistSession writes a session snapshot to the durable store
	JobTypePersistSession JobType = "persist_session"
	// JobTypePersistMessage appends a message to the durable store
	JobTypePersistMessage JobType = "persist_message"
	// JobTypeEndSession marks a session ended in the durable store
	JobTypeEndSession JobType = "end_session"
)

// Job represents a persistence job in the queue
type Job struct {
	ID         uuid.UUID       `json:"id"`
	Type       JobType         `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	NotBefore  *time.Time      `json:"not_before,omitempty"` // Earliest time to process (nil = immediate)
	NotAfter   *time.Time      `json:"not_after,omitempty"`  // Latest time to process (nil = no expiration)
	CreatedAt  time.Time       `json:"created_at"`
	RetryCount int             `json:"retry_count"`
	MaxRetries int             `json:"max_retries"`
}

func newJob(jobType JobType, payload any) (*Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", jobType, err)
	}
	return &Job{
		ID:         uuid.New(),
		Type:       jobType,
		Payload:    data,
		CreatedAt:  time.Now().UTC(),
		RetryCount: 0,
		MaxRetries: 3,
	}, nil
}

// NewPersistSessionJob creates a job carrying a session snapshot
func NewPersistSessionJob(session *models.Session) (*Job, error) {
	return newJob(JobTypePersistSession, session)
}

// NewPersistMessageJob creates a job carrying a message
func NewPersistMessageJob(message *models.Message) (*Job, error) {
	return newJob(JobTypePersistMessage, message)
}

// EndSessionPayload identifies the session to close
type EndSessionPayload struct {
	SessionID uuid.UUID `json:"session_id"`
}

// NewEndSessionJob creates a job that closes a session
func NewEndSessionJob(sessionID uuid.UUID) (*Job, error) {
	return newJob(JobTypeEndSession, EndSessionPayload{SessionID: sessionID})
}

// SessionPayload decodes the session snapshot of a persist_session job
func (j *Job) SessionPayload() (*models.Session, error) {
	session := &models.Session{}
	if err := json.Unmarshal(j.Payload, session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session payload: %w", err)
	}
	return session, nil
}

// MessagePayload decodes the message of a persist_message job
func (j *Job) MessagePayload() (*models.Message, error) {
	message := &models.Message{}
	if err := json.Unmarshal(j.Payload, message); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message payload: %w", err)
	}
	return message, nil
}

// EndSessionPayload decodes the payload of an end_session job
func (j *Job) EndSessionPayload() (*EndSessionPayload, error) {
	payload := &EndSessionPayload{}
	if err := json.Unmarshal(j.Payload, payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal end session payload: %w", err)
	}
	return payload, nil
}

// ShouldProcess checks if the job should be processed now
func (j *Job) ShouldProcess() bool {
	now := time.Now()

	if j.NotBefore != nil && now.Before(*j.NotBefore) {
		return false
	}
	if j.NotAfter != nil && now.After(*j.NotAfter) {
		return false
	}

	return true
}

// IsExpired checks if the job has expired
func (j *Job) IsExpired() bool {
	if j.NotAfter == nil {
		return false
	}
	return time.Now().After(*j.NotAfter)
}

// CanRetry checks if the job can be retried
func (j *Job) CanRetry() bool {
	return j.RetryCount < j.MaxRetries
}

// IncrementRetry increments the retry count
func (j *Job) IncrementRetry() {
	j.RetryCount++
}
