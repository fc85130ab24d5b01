package cache

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zeebo/blake3"

	"github.com/parleybot/parley/internal/models"
)

const responseKeyFmt = "response:%s"

// ResponseCache stores generated replies keyed by a fingerprint of the
// normalized request. Entries are only written for intents with no side
// effects; the caller decides cacheability.
type ResponseCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewResponseCache creates a response cache with the given entry lifetime
func NewResponseCache(client *redis.Client, ttl time.Duration) *ResponseCache {
	return &ResponseCache{client: client, ttl: ttl}
}

// Fingerprint derives the cache key for a request. Text is lowercased with
// whitespace collapsed so trivially different phrasings of the same request
// share an entry; the preference fields are included because they change the
// generated reply.
func Fingerprint(text string, category models.IntentCategory, pref *models.UserPreference) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(text)), " ")

	h := blake3.New()
	_, _ = h.WriteString(normalized)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(string(category))
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(pref.Tone)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(pref.EmojiDensity)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(pref.Language)

	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached reply for a fingerprint. ErrMiss on absence,
// ErrUnavailable on Redis failure; both are treated as misses upstream.
func (c *ResponseCache) Get(ctx context.Context, fingerprint string) (string, error) {
	key := fmt.Sprintf(responseKeyFmt, fingerprint)

	reply, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrMiss
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return reply, nil
}

// Put stores a reply under its fingerprint
func (c *ResponseCache) Put(ctx context.Context, fingerprint, reply string) error {
	key := fmt.Sprintf(responseKeyFmt, fingerprint)
	if err := c.client.Set(ctx, key, reply, c.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
