package models

import (
	"testing"
	"time"
)

func TestNewSession(t *testing.T) {
	t.Parallel()

	session := NewSession("user-1", "channel-1")

	if session.UserID != "user-1" || session.ChannelID != "channel-1" {
		t.Errorf("Unexpected session identity: %s/%s", session.UserID, session.ChannelID)
	}
	if session.Status != SessionStatusActive {
		t.Errorf("Expected active status, got %s", session.Status)
	}
	if session.MessageCount != 0 {
		t.Errorf("Expected zero message count, got %d", session.MessageCount)
	}
	if !session.StartedAt.Equal(session.LastActiveAt) {
		t.Error("Expected StartedAt and LastActiveAt to match on creation")
	}
}

func TestIdleExpired(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	session := NewSession("user-1", "channel-1")
	session.LastActiveAt = base

	tests := []struct {
		name     string
		now      time.Time
		expected bool
	}{
		{
			name:     "just active",
			now:      base.Add(time.Second),
			expected: false,
		},
		{
			name:     "exactly at the timeout",
			now:      base.Add(DefaultSessionTimeout),
			expected: false,
		},
		{
			name:     "just past the timeout",
			now:      base.Add(DefaultSessionTimeout + time.Second),
			expected: true,
		},
		{
			name:     "long idle",
			now:      base.Add(24 * time.Hour),
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := session.IdleExpired(tt.now, DefaultSessionTimeout); got != tt.expected {
				t.Errorf("Expected IdleExpired=%v at %v, got %v", tt.expected, tt.now, got)
			}
		})
	}
}
