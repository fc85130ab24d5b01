package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/parleybot/parley/internal/models"
)

// ErrNotFound is returned when a requested row does not exist
var ErrNotFound = errors.New("not found")

// SessionRepository handles session database operations
type SessionRepository struct {
	db *DB
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Upsert inserts the session or refreshes its activity columns. Used by the
// persistence worker, which may replay the same session payload more than once.
func (r *SessionRepository) Upsert(ctx context.Context, session *models.Session) error {
	query := `
		INSERT INTO sessions (id, user_id, channel_id, started_at, last_active_at, message_count, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			last_active_at = EXCLUDED.last_active_at,
			message_count = EXCLUDED.message_count,
			status = EXCLUDED.status
	`

	_, err := r.db.ExecContext(ctx, query,
		session.ID,
		session.UserID,
		session.ChannelID,
		session.StartedAt,
		session.LastActiveAt,
		session.MessageCount,
		session.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}

	return nil
}

// GetActive retrieves the single active session for a (user, channel) pair.
// Returns ErrNotFound when none exists.
func (r *SessionRepository) GetActive(ctx context.Context, userID, channelID string) (*models.Session, error) {
	session := &models.Session{}
	query := `
		SELECT id, user_id, channel_id, started_at, last_active_at, message_count, status
		FROM sessions
		WHERE user_id = $1 AND channel_id = $2 AND status = 'active'
	`

	err := r.db.QueryRowContext(ctx, query, userID, channelID).Scan(
		&session.ID,
		&session.UserID,
		&session.ChannelID,
		&session.StartedAt,
		&session.LastActiveAt,
		&session.MessageCount,
		&session.Status,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active session: %w", err)
	}

	return session, nil
}

// Touch advances a session's activity timestamp and message count
func (r *SessionRepository) Touch(ctx context.Context, id uuid.UUID, lastActiveAt time.Time, messageCount int) error {
	query := `
		UPDATE sessions
		SET last_active_at = $2, message_count = $3
		WHERE id = $1
	`

	_, err := r.db.ExecContext(ctx, query, id, lastActiveAt, messageCount)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}

	return nil
}

// End marks a session as ended. Ending an already ended session is a no-op.
func (r *SessionRepository) End(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE sessions
		SET status = 'ended'
		WHERE id = $1 AND status = 'active'
	`

	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}

	return nil
}

// ListIdleActive returns active sessions whose last activity is older than the
// cutoff. Used by the idle sweep.
func (r *SessionRepository) ListIdleActive(ctx context.Context, cutoff time.Time, limit int) ([]*models.Session, error) {
	query := `
		SELECT id, user_id, channel_id, started_at, last_active_at, message_count, status
		FROM sessions
		WHERE status = 'active' AND last_active_at < $1
		ORDER BY last_active_at ASC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list idle sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*models.Session
	for rows.Next() {
		session := &models.Session{}
		if err := rows.Scan(
			&session.ID,
			&session.UserID,
			&session.ChannelID,
			&session.StartedAt,
			&session.LastActiveAt,
			&session.MessageCount,
			&session.Status,
		); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}

	return sessions, nil
}
