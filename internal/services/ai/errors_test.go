package ai

import (
	"errors"
	"testing"
)

func TestIsTransientError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{
			name:      "nil error",
			err:       nil,
			transient: false,
		},
		{
			name:      "rate limit",
			err:       &APIError{StatusCode: 429},
			transient: true,
		},
		{
			name:      "server error",
			err:       &APIError{StatusCode: 503},
			transient: true,
		},
		{
			name:      "bad request",
			err:       &APIError{StatusCode: 400},
			transient: false,
		},
		{
			name:      "quota exhaustion is permanent",
			err:       &APIError{StatusCode: 429, IsPermanent: true},
			transient: false,
		},
		{
			name:      "network timeout",
			err:       errors.New("dial tcp 10.0.0.1:443: i/o timeout"),
			transient: true,
		},
		{
			name:      "plain failure",
			err:       errors.New("invalid prompt"),
			transient: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := IsTransientError(tt.err); got != tt.transient {
				t.Errorf("Expected transient=%t for %v, got %t", tt.transient, tt.err, got)
			}
		})
	}
}
