package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/parleybot/parley/internal/models"
)

const (
	activeSessionKeyFmt  = "session:active:%s:%s"
	sessionMessagesFmt   = "session:msgs:%s"
	sessionMessagesMax   = 50
	sessionCacheTTLSlack = 5 * time.Minute
)

// SessionCache is the Redis fast tier for active sessions and their recent
// messages. Everything here is reconstructable from the durable store, so
// every operation degrades to a miss on Redis failure.
type SessionCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSessionCache creates a session cache whose entries outlive the session
// idle timeout by a small slack so expiry decisions stay with the store.
func NewSessionCache(client *redis.Client, sessionTimeout time.Duration) *SessionCache {
	return &SessionCache{
		client: client,
		ttl:    sessionTimeout + sessionCacheTTLSlack,
	}
}

// GetActive returns the cached active session for a (user, channel) pair
func (c *SessionCache) GetActive(ctx context.Context, userID, channelID string) (*models.Session, error) {
	key := fmt.Sprintf(activeSessionKeyFmt, userID, channelID)

	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	session := &models.Session{}
	if err := json.Unmarshal(data, session); err != nil {
		// Corrupt entry, drop it and report a miss
		_ = c.client.Del(ctx, key).Err()
		return nil, ErrMiss
	}

	return session, nil
}

// PutActive stores the active session for its (user, channel) pair
func (c *SessionCache) PutActive(ctx context.Context, session *models.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	key := fmt.Sprintf(activeSessionKeyFmt, session.UserID, session.ChannelID)
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return nil
}

// DropActive removes the active-session entry for a (user, channel) pair
func (c *SessionCache) DropActive(ctx context.Context, userID, channelID string) error {
	key := fmt.Sprintf(activeSessionKeyFmt, userID, channelID)
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// AppendMessage pushes a message onto the session's recent-message list,
// keeping only the newest entries.
func (c *SessionCache) AppendMessage(ctx context.Context, message *models.Message) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	key := fmt.Sprintf(sessionMessagesFmt, message.SessionID)
	pipe := c.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, -sessionMessagesMax, -1)
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return nil
}

// RecentMessages returns up to limit of the newest cached messages for a
// session in chronological order. ErrMiss means the list is absent and the
// caller should fall back to the durable store.
func (c *SessionCache) RecentMessages(ctx context.Context, sessionID uuid.UUID, limit int) ([]*models.Message, error) {
	key := fmt.Sprintf(sessionMessagesFmt, sessionID)

	entries, err := c.client.LRange(ctx, key, int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(entries) == 0 {
		return nil, ErrMiss
	}

	messages := make([]*models.Message, 0, len(entries))
	for _, entry := range entries {
		message := &models.Message{}
		if err := json.Unmarshal([]byte(entry), message); err != nil {
			return nil, ErrMiss
		}
		messages = append(messages, message)
	}

	return messages, nil
}

// DropMessages removes a session's cached message list
func (c *SessionCache) DropMessages(ctx context.Context, sessionID uuid.UUID) error {
	key := fmt.Sprintf(sessionMessagesFmt, sessionID)
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
