package auth

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/vigil/internal/cryptoutil"
	"github.com/wisbric/vigil/pkg/apikey"
)

// APIKeyAuthenticator validates API keys against the database and stamps
// last_used_at on every successful validation.
type APIKeyAuthenticator struct {
	store  *apikey.Store
	logger *slog.Logger
}

// NewAPIKeyAuthenticator builds an authenticator backed by pool.
func NewAPIKeyAuthenticator(pool *pgxpool.Pool, logger *slog.Logger) *APIKeyAuthenticator {
	return &APIKeyAuthenticator{store: apikey.NewStore(pool), logger: logger}
}

// ErrInvalidAPIKey covers unknown, revoked, and expired keys.
var ErrInvalidAPIKey = fmt.Errorf("invalid api key")

// Authenticate hashes rawKey, looks it up, and validates it is not revoked
// or expired. last_used_at is stamped asynchronously (fire-and-forget), the
// same pattern the teacher uses for non-blocking side effects.
func (a *APIKeyAuthenticator) Authenticate(ctx context.Context, rawKey string) (*APIKeyIdentity, error) {
	if rawKey == "" {
		return nil, ErrInvalidAPIKey
	}

	hash := cryptoutil.HashAPIKey(rawKey)

	key, err := a.store.GetByHash(ctx, hash)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrInvalidAPIKey
		}
		return nil, fmt.Errorf("looking up api key: %w", err)
	}

	if !key.Active() {
		return nil, ErrInvalidAPIKey
	}

	go func(id uuid.UUID) {
		if err := a.store.TouchLastUsed(context.Background(), id); err != nil {
			a.logger.Warn("stamping api key last_used_at", "error", err, "api_key_id", id)
		}
	}(key.ID)

	return &APIKeyIdentity{
		APIKeyID:     key.ID,
		OrgID:        key.OrgID,
		KeyPrefix:    key.KeyPrefix,
		Scopes:       key.Scopes,
		RateLimitRPM: key.EffectiveRateLimitRPM(),
		Plan:         key.Plan,
		MonthlyQuota: key.MonthlyQuota,
		GuardConfig:  key.GuardConfig,
	}, nil
}
