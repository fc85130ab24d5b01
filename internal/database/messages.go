package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/parleybot/parley/internal/models"
)

// MessageRepository handles message database operations
type MessageRepository struct {
	db *DB
}

// NewMessageRepository creates a new message repository
func NewMessageRepository(db *DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Create inserts a message row. Messages are append-only; there is no update
// or delete path.
func (r *MessageRepository) Create(ctx context.Context, message *models.Message) error {
	if err := message.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO messages (id, session_id, role, content, intent_type, confidence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, query,
		message.ID,
		message.SessionID,
		message.Role,
		message.Content,
		message.IntentType,
		message.Confidence,
		message.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}

	return nil
}

// GetRecentBySession returns the newest limit messages of a session in
// chronological order (oldest of the window first).
func (r *MessageRepository) GetRecentBySession(ctx context.Context, sessionID uuid.UUID, limit int) ([]*models.Message, error) {
	query := `
		SELECT id, session_id, role, content, intent_type, confidence, created_at
		FROM (
			SELECT id, session_id, role, content, intent_type, confidence, created_at
			FROM messages
			WHERE session_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*models.Message
	for rows.Next() {
		message := &models.Message{}
		if err := rows.Scan(
			&message.ID,
			&message.SessionID,
			&message.Role,
			&message.Content,
			&message.IntentType,
			&message.Confidence,
			&message.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	return messages, nil
}

// CountBySession returns per-role message counts for a session
func (r *MessageRepository) CountBySession(ctx context.Context, sessionID uuid.UUID) (userCount, assistantCount int, err error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE role = 'user'),
			COUNT(*) FILTER (WHERE role = 'assistant')
		FROM messages
		WHERE session_id = $1
	`

	err = r.db.QueryRowContext(ctx, query, sessionID).Scan(&userCount, &assistantCount)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count messages: %w", err)
	}

	return userCount, assistantCount, nil
}
