package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	redisstore "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"

	"github.com/parleybot/parley/internal/models"
	"github.com/parleybot/parley/internal/router"
)

// Result is the outcome of a rate limit check
type Result struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// Limiter enforces per-user, per-category fixed-window rate limits. Categories
// without a configured rate are never limited, and a store failure lets the
// request through rather than blocking users on infrastructure trouble.
type Limiter struct {
	limiters map[models.IntentCategory]*limiter.Limiter
	logger   *zap.Logger
}

// NewRedisStore creates the limiter store shared by all categories
func NewRedisStore(client *redis.Client) (limiter.Store, error) {
	store, err := redisstore.NewStoreWithOptions(client, limiter.StoreOptions{
		Prefix: "ratelimit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limit store: %w", err)
	}
	return store, nil
}

// New creates a limiter with one rate per category from the policy table
func New(store limiter.Store, policies router.PolicyTable, logger *zap.Logger) (*Limiter, error) {
	limiters := make(map[models.IntentCategory]*limiter.Limiter)
	for category, policy := range policies {
		if policy.RateLimit == "" {
			continue
		}
		rate, err := limiter.NewRateFromFormatted(policy.RateLimit)
		if err != nil {
			return nil, fmt.Errorf("invalid rate %q for %s: %w", policy.RateLimit, category, err)
		}
		limiters[category] = limiter.New(store, rate)
	}

	return &Limiter{limiters: limiters, logger: logger}, nil
}

// Check consumes one unit of the user's budget for a category. The returned
// RetryAfter is positive whenever the request is denied.
func (l *Limiter) Check(ctx context.Context, userID string, category models.IntentCategory) Result {
	instance, ok := l.limiters[category]
	if !ok {
		return Result{Allowed: true, Remaining: -1}
	}

	key := fmt.Sprintf("user:%s:cat:%s", userID, category)
	limiterCtx, err := instance.Get(ctx, key)
	if err != nil {
		// Fail open: a broken store must not take the service down
		l.logger.Error("rate limit check failed, allowing request",
			zap.String("user_id", userID),
			zap.String("category", string(category)),
			zap.Error(err))
		return Result{Allowed: true, Remaining: -1}
	}

	if limiterCtx.Reached {
		retryAfter := time.Until(time.Unix(limiterCtx.Reset, 0))
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		return Result{Allowed: false, Remaining: 0, RetryAfter: retryAfter}
	}

	return Result{Allowed: true, Remaining: limiterCtx.Remaining}
}
