package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a conversation session
type SessionStatus string

const (
	// SessionStatusActive means the session accepts new messages
	SessionStatusActive SessionStatus = "active"
	// SessionStatusEnded means the session was closed by timeout or explicitly
	SessionStatusEnded SessionStatus = "ended"
)

// DefaultSessionTimeout is how long a session may sit idle before it expires
const DefaultSessionTimeout = 30 * time.Minute

// Session is one ongoing conversation for a (user, channel) pair.
// At most one active session exists per pair at any time.
type Session struct {
	ID           uuid.UUID     `json:"id"`
	UserID       string        `json:"user_id"`
	ChannelID    string        `json:"channel_id"`
	StartedAt    time.Time     `json:"started_at"`
	LastActiveAt time.Time     `json:"last_active_at"`
	MessageCount int           `json:"message_count"`
	Status       SessionStatus `json:"status"`
}

// NewSession creates an active session for a (user, channel) pair
func NewSession(userID, channelID string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:           uuid.New(),
		UserID:       userID,
		ChannelID:    channelID,
		StartedAt:    now,
		LastActiveAt: now,
		MessageCount: 0,
		Status:       SessionStatusActive,
	}
}

// IdleExpired reports whether the session has been idle longer than timeout
func (s *Session) IdleExpired(now time.Time, timeout time.Duration) bool {
	return now.Sub(s.LastActiveAt) > timeout
}

// SessionSummary describes a session at the moment it was ended
type SessionSummary struct {
	SessionID         uuid.UUID     `json:"session_id"`
	UserID            string        `json:"user_id"`
	ChannelID         string        `json:"channel_id"`
	TotalMessages     int           `json:"total_messages"`
	UserMessages      int           `json:"user_messages"`
	AssistantMessages int           `json:"assistant_messages"`
	Duration          time.Duration `json:"duration"`
}
