package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// MonthlyQuotaBasic is the request ceiling for the Basic plan, used as the
// last resort in the quota resolution order.
const MonthlyQuotaBasic = 10_000

const monthlyQuotaTTL = 30 * 24 * time.Hour

// planQuotas maps a plan name to its monthly request allowance. Plans absent
// from this table fall through to MonthlyQuotaBasic.
var planQuotas = map[string]int{
	"basic":      MonthlyQuotaBasic,
	"pro":        100_000,
	"enterprise": 1_000_000,
}

// ResolveQuota implements the plan/override resolution order: an explicit
// per-key override wins, then the key's own plan, then the owning user's
// subscription plan, then the organization's plan, then the Basic default.
func ResolveQuota(apiKeyMonthlyQuota *int, apiKeyPlan, userPlan, orgPlan string) int {
	if apiKeyMonthlyQuota != nil && *apiKeyMonthlyQuota != MonthlyQuotaBasic {
		return *apiKeyMonthlyQuota
	}
	if apiKeyPlan != "" && apiKeyPlan != "basic" {
		return quotaForPlan(apiKeyPlan)
	}
	if userPlan != "" && userPlan != "basic" {
		return quotaForPlan(userPlan)
	}
	if orgPlan != "" {
		return quotaForPlan(orgPlan)
	}
	return MonthlyQuotaBasic
}

func quotaForPlan(plan string) int {
	if q, ok := planQuotas[plan]; ok {
		return q
	}
	return MonthlyQuotaBasic
}

func monthlyKey(apiKeyID uuid.UUID) string {
	return fmt.Sprintf("quota:monthly:%s", apiKeyID)
}

// QuotaResult holds the outcome of a quota check.
type QuotaResult struct {
	Allowed   bool
	Remaining int
	Used      int
}

// CheckAndIncrement checks the monthly counter against limit before
// incrementing, so a denied request neither bumps the counter nor
// misreports its usage. A fresh key (new value 1) gets a ~30-day TTL.
func (l *Limiter) CheckAndIncrement(ctx context.Context, apiKeyID uuid.UUID, limit int) (QuotaResult, error) {
	key := monthlyKey(apiKeyID)

	current, err := l.redis.Get(ctx, key).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return QuotaResult{}, fmt.Errorf("checking monthly quota: %w", err)
	}

	if current >= limit {
		return QuotaResult{Allowed: false, Remaining: 0, Used: current}, nil
	}

	newVal, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return QuotaResult{}, fmt.Errorf("incrementing monthly quota: %w", err)
	}
	if newVal == 1 {
		if err := l.redis.Expire(ctx, key, monthlyQuotaTTL).Err(); err != nil {
			l.logger.Warn("setting monthly quota ttl", "error", err, "api_key_id", apiKeyID)
		}
	}

	used := int(newVal)
	return QuotaResult{Allowed: true, Remaining: limit - used, Used: used}, nil
}

// IncrementBy atomically increments the monthly counter by n, installing the
// TTL if it is missing (e.g. the key existed from a prior CheckAndIncrement
// call whose Expire lost a race). Used by batch scans that must charge the
// quota for the whole batch at once.
func (l *Limiter) IncrementBy(ctx context.Context, apiKeyID uuid.UUID, n int64) (int, error) {
	key := monthlyKey(apiKeyID)

	newVal, err := l.redis.IncrBy(ctx, key, n).Result()
	if err != nil {
		return 0, fmt.Errorf("incrementing monthly quota by %d: %w", n, err)
	}

	ttl, err := l.redis.TTL(ctx, key).Result()
	if err == nil && ttl < 0 {
		if err := l.redis.Expire(ctx, key, monthlyQuotaTTL).Err(); err != nil {
			l.logger.Warn("setting monthly quota ttl", "error", err, "api_key_id", apiKeyID)
		}
	}

	return int(newVal), nil
}

// Peek returns the remaining quota without mutating the counter. Used by
// batch scans to validate the whole batch atomically before charging it.
func (l *Limiter) Peek(ctx context.Context, apiKeyID uuid.UUID, limit int) (QuotaResult, error) {
	key := monthlyKey(apiKeyID)

	used, err := l.redis.Get(ctx, key).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return QuotaResult{Allowed: true, Remaining: limit, Used: 0}, nil
		}
		return QuotaResult{}, fmt.Errorf("peeking monthly quota: %w", err)
	}

	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return QuotaResult{Allowed: used < limit, Remaining: remaining, Used: used}, nil
}
