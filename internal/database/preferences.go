package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/parleybot/parley/internal/models"
)

// PreferenceRepository handles user preference database operations
type PreferenceRepository struct {
	db *DB
}

// NewPreferenceRepository creates a new preference repository
func NewPreferenceRepository(db *DB) *PreferenceRepository {
	return &PreferenceRepository{db: db}
}

// GetOrCreate returns the preference row for a user, inserting defaults when
// the user has never been seen before.
func (r *PreferenceRepository) GetOrCreate(ctx context.Context, userID string) (*models.UserPreference, error) {
	pref, err := r.get(ctx, userID)
	if err == nil {
		return pref, nil
	}
	if err != ErrNotFound {
		return nil, err
	}

	pref = models.DefaultPreference(userID)
	query := `
		INSERT INTO user_preferences (user_id, tone, emoji_density, context_window_size, language, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO NOTHING
	`

	_, err = r.db.ExecContext(ctx, query,
		pref.UserID,
		pref.Tone,
		pref.EmojiDensity,
		pref.ContextWindowSize,
		pref.Language,
		pref.CreatedAt,
		pref.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create preferences: %w", err)
	}

	// A concurrent insert may have won the conflict; read back the row
	return r.get(ctx, userID)
}

// Update replaces a user's preference values
func (r *PreferenceRepository) Update(ctx context.Context, pref *models.UserPreference) error {
	query := `
		UPDATE user_preferences
		SET tone = $2, emoji_density = $3, context_window_size = $4, language = $5, updated_at = $6
		WHERE user_id = $1
	`

	pref.UpdatedAt = time.Now().UTC()
	result, err := r.db.ExecContext(ctx, query,
		pref.UserID,
		pref.Tone,
		pref.EmojiDensity,
		pref.ContextWindowSize,
		pref.Language,
		pref.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update preferences: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

func (r *PreferenceRepository) get(ctx context.Context, userID string) (*models.UserPreference, error) {
	pref := &models.UserPreference{}
	query := `
		SELECT user_id, tone, emoji_density, context_window_size, language, created_at, updated_at
		FROM user_preferences
		WHERE user_id = $1
	`

	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&pref.UserID,
		&pref.Tone,
		&pref.EmojiDensity,
		&pref.ContextWindowSize,
		&pref.Language,
		&pref.CreatedAt,
		&pref.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get preferences: %w", err)
	}

	return pref, nil
}
