package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/parleybot/parley/internal/models"
)

// IntentLogRepository handles intent audit log database operations
type IntentLogRepository struct {
	db *DB
}

// NewIntentLogRepository creates a new intent log repository
func NewIntentLogRepository(db *DB) *IntentLogRepository {
	return &IntentLogRepository{db: db}
}

// Create appends an intent audit record
func (r *IntentLogRepository) Create(ctx context.Context, log *models.IntentLog) error {
	var entities []byte
	if log.Entities != nil {
		var err error
		entities, err = json.Marshal(log.Entities)
		if err != nil {
			return fmt.Errorf("failed to marshal intent entities: %w", err)
		}
	}

	query := `
		INSERT INTO intent_logs (id, user_id, content, detected_intent, confidence, entities, execution_success, latency_ms, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.ExecContext(ctx, query,
		log.ID,
		log.UserID,
		log.Content,
		log.DetectedIntent,
		log.Confidence,
		entities,
		log.ExecutionSuccess,
		log.LatencyMS,
		log.Error,
		log.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create intent log: %w", err)
	}

	return nil
}

// RecentByUser returns the newest limit audit records for a user
func (r *IntentLogRepository) RecentByUser(ctx context.Context, userID string, limit int) ([]*models.IntentLog, error) {
	query := `
		SELECT id, user_id, content, detected_intent, confidence, entities, execution_success, latency_ms, error, created_at
		FROM intent_logs
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list intent logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var logs []*models.IntentLog
	for rows.Next() {
		log := &models.IntentLog{}
		var entities []byte
		if err := rows.Scan(
			&log.ID,
			&log.UserID,
			&log.Content,
			&log.DetectedIntent,
			&log.Confidence,
			&entities,
			&log.ExecutionSuccess,
			&log.LatencyMS,
			&log.Error,
			&log.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan intent log: %w", err)
		}
		if len(entities) > 0 {
			if err := json.Unmarshal(entities, &log.Entities); err != nil {
				return nil, fmt.Errorf("failed to unmarshal intent entities: %w", err)
			}
		}
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate intent logs: %w", err)
	}

	return logs, nil
}
