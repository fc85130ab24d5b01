package turn

import "errors"

var (
	// ErrEmptyMessage is returned when the message content is blank
	ErrEmptyMessage = errors.New("message content is empty")
	// ErrTurnTimeout is returned when a turn exceeds its processing budget
	ErrTurnTimeout = errors.New("turn processing timed out")
)
