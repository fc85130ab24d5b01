package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageRole identifies who authored a message
type MessageRole string

const (
	// RoleUser is a message sent by the end user
	RoleUser MessageRole = "user"
	// RoleAssistant is a message produced by the system
	RoleAssistant MessageRole = "assistant"
)

// Message is one turn in a session. Messages are immutable once written
// and ordered by CreatedAt within a session; ordering is the only contract
// consumers may rely on.
type Message struct {
	ID         uuid.UUID   `json:"id"`
	SessionID  uuid.UUID   `json:"session_id"`
	Role       MessageRole `json:"role"`
	Content    string      `json:"content"`
	IntentType *string     `json:"intent_type,omitempty"`
	Confidence *float64    `json:"confidence,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// NewUserMessage creates a user-turn message carrying the classification result
func NewUserMessage(sessionID uuid.UUID, content string, intent IntentCategory, confidence float64) *Message {
	intentStr := string(intent)
	return &Message{
		ID:         uuid.New(),
		SessionID:  sessionID,
		Role:       RoleUser,
		Content:    content,
		IntentType: &intentStr,
		Confidence: &confidence,
		CreatedAt:  time.Now().UTC(),
	}
}

// NewAssistantMessage creates an assistant-turn message
func NewAssistantMessage(sessionID uuid.UUID, content string) *Message {
	return &Message{
		ID:        uuid.New(),
		SessionID: sessionID,
		Role:      RoleAssistant,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

// Validate checks role correctness before a message is persisted
func (m *Message) Validate() error {
	switch m.Role {
	case RoleUser, RoleAssistant:
	default:
		return fmt.Errorf("invalid message role: %q", m.Role)
	}
	if m.SessionID == uuid.Nil {
		return fmt.Errorf("message has no session id")
	}
	return nil
}
