package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable is returned when the fast tier cannot be reached. Callers
// treat it as a miss, never as a hard failure.
var ErrUnavailable = errors.New("cache unavailable")

// ErrMiss is returned when a key does not exist in the fast tier
var ErrMiss = errors.New("cache miss")

// NewClient connects to Redis and verifies connectivity
func NewClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}
