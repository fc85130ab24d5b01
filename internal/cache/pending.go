package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/parleybot/parley/internal/models"
)

const (
	pendingActionKeyFmt = "pending:%s"
	pendingActionTTL    = 5 * time.Minute
)

// PendingAction is a side-effecting operation waiting for user confirmation.
// It lives only in Redis; if it expires the user simply gets asked again.
type PendingAction struct {
	SessionID uuid.UUID             `json:"session_id"`
	Intent    models.IntentCategory `json:"intent"`
	Content   string                `json:"content"`
	Entities  map[string]any        `json:"entities,omitempty"`
	CreatedAt time.Time             `json:"created_at"`
}

// PendingStore holds one pending confirmation per session
type PendingStore struct {
	client *redis.Client
}

// NewPendingStore creates a pending action store
func NewPendingStore(client *redis.Client) *PendingStore {
	return &PendingStore{client: client}
}

// Put stores the pending action for a session, replacing any prior one
func (s *PendingStore) Put(ctx context.Context, action *PendingAction) error {
	data, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("failed to marshal pending action: %w", err)
	}

	key := fmt.Sprintf(pendingActionKeyFmt, action.SessionID)
	if err := s.client.Set(ctx, key, data, pendingActionTTL).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return nil
}

// Take returns and removes the pending action for a session. ErrMiss when
// none is waiting.
func (s *PendingStore) Take(ctx context.Context, sessionID uuid.UUID) (*PendingAction, error) {
	key := fmt.Sprintf(pendingActionKeyFmt, sessionID)

	data, err := s.client.GetDel(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	action := &PendingAction{}
	if err := json.Unmarshal(data, action); err != nil {
		return nil, ErrMiss
	}

	return action, nil
}
