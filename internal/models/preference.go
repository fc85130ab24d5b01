package models

import "time"

// Preference defaults applied when a user is seen for the first time
const (
	DefaultTone              = "friendly"
	DefaultEmojiDensity      = "moderate"
	DefaultContextWindowSize = 10
	DefaultLanguage          = "en"
)

// UserPreference holds per-user response personalization. One row per user,
// created lazily with defaults on first access and updated only by explicit
// user action.
type UserPreference struct {
	UserID            string    `json:"user_id"`
	Tone              string    `json:"tone"`
	EmojiDensity      string    `json:"emoji_density"`
	ContextWindowSize int       `json:"context_window_size"`
	Language          string    `json:"language"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// DefaultPreference returns the preference row used before a user customizes anything
func DefaultPreference(userID string) *UserPreference {
	now := time.Now().UTC()
	return &UserPreference{
		UserID:            userID,
		Tone:              DefaultTone,
		EmojiDensity:      DefaultEmojiDensity,
		ContextWindowSize: DefaultContextWindowSize,
		Language:          DefaultLanguage,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}
