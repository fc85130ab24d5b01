package database

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/parleybot/parley/internal/models"
)

// SessionRepositoryInterface defines the interface for session repository operations
// This interface enables better testability by allowing mock implementations
type SessionRepositoryInterface interface {
	Upsert(ctx context.Context, session *models.Session) error
	GetActive(ctx context.Context, userID, channelID string) (*models.Session, error)
	Touch(ctx context.Context, id uuid.UUID, lastActiveAt time.Time, messageCount int) error
	End(ctx context.Context, id uuid.UUID) error
	ListIdleActive(ctx context.Context, cutoff time.Time, limit int) ([]*models.Session, error)
}

// MessageRepositoryInterface defines the interface for message repository operations
type MessageRepositoryInterface interface {
	Create(ctx context.Context, message *models.Message) error
	GetRecentBySession(ctx context.Context, sessionID uuid.UUID, limit int) ([]*models.Message, error)
	CountBySession(ctx context.Context, sessionID uuid.UUID) (userCount, assistantCount int, err error)
}

// PreferenceRepositoryInterface defines the interface for preference repository operations
type PreferenceRepositoryInterface interface {
	GetOrCreate(ctx context.Context, userID string) (*models.UserPreference, error)
	Update(ctx context.Context, pref *models.UserPreference) error
}

// IntentLogRepositoryInterface defines the interface for intent log repository operations
type IntentLogRepositoryInterface interface {
	Create(ctx context.Context, log *models.IntentLog) error
	RecentByUser(ctx context.Context, userID string, limit int) ([]*models.IntentLog, error)
}

// Ensure concrete types implement the interfaces
var (
	_ SessionRepositoryInterface    = (*SessionRepository)(nil)
	_ MessageRepositoryInterface    = (*MessageRepository)(nil)
	_ PreferenceRepositoryInterface = (*PreferenceRepository)(nil)
	_ IntentLogRepositoryInterface  = (*IntentLogRepository)(nil)
)
