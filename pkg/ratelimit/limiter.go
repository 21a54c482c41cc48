// Package ratelimit implements the Redis-backed per-minute admission limiter
// and monthly quota counters used to gate guard scan traffic.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const perMinuteWindow = 60 * time.Second

// Limiter enforces a fixed per-minute request ceiling per API key using a
// Redis counter. Failures of the counter store are non-fatal: the caller
// proceeds and the failure is logged, matching the teacher's approach to
// optional infrastructure on the request hot path.
type Limiter struct {
	redis  *redis.Client
	logger *slog.Logger
}

// NewLimiter builds a Limiter backed by rdb.
func NewLimiter(rdb *redis.Client, logger *slog.Logger) *Limiter {
	return &Limiter{redis: rdb, logger: logger}
}

// Result holds the outcome of a rate limit check.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

func perMinuteKey(apiKeyID uuid.UUID) string {
	id := apiKeyID.String()
	if len(id) > 16 {
		id = id[:16]
	}
	return fmt.Sprintf("ratelimit:apikey:%s", id)
}

// Check increments the caller's per-minute counter and reports whether the
// request is admitted. On Redis failure it fails open: Allowed=true.
func (l *Limiter) Check(ctx context.Context, apiKeyID uuid.UUID, limitRPM int) Result {
	key := perMinuteKey(apiKeyID)

	count, err := l.redis.Get(ctx, key).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		l.logger.Warn("rate limit check failed, failing open", "error", err, "api_key_id", apiKeyID)
		return Result{Allowed: true, Remaining: limitRPM}
	}

	if count >= limitRPM {
		ttl, err := l.redis.TTL(ctx, key).Result()
		if err != nil || ttl < 0 {
			ttl = perMinuteWindow
		}
		return Result{Allowed: false, Remaining: 0, RetryAfter: ttl}
	}

	newVal, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		l.logger.Warn("rate limit increment failed, failing open", "error", err, "api_key_id", apiKeyID)
		return Result{Allowed: true, Remaining: limitRPM}
	}
	if newVal == 1 {
		if err := l.redis.Expire(ctx, key, perMinuteWindow).Err(); err != nil {
			l.logger.Warn("setting rate limit ttl", "error", err, "api_key_id", apiKeyID)
		}
	}

	remaining := limitRPM - int(newVal)
	if remaining < 0 {
		remaining = 0
	}

	ttl, err := l.redis.TTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		ttl = perMinuteWindow
	}

	return Result{Allowed: true, Remaining: remaining, RetryAfter: ttl}
}
