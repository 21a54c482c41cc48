// Package auth implements admission glue: API-key lookup and session-token
// lookup. Neither path issues credentials — both only validate ones minted
// elsewhere (key creation lives in pkg/apikey; session/user issuance is
// handled by a separate frontend auth service).
package auth

import (
	"context"

	"github.com/google/uuid"

	"github.com/wisbric/vigil/pkg/apikey"
)

// APIKeyIdentity is the resolved identity for an API-key-authenticated
// request.
type APIKeyIdentity struct {
	APIKeyID     uuid.UUID
	OrgID        uuid.UUID
	KeyPrefix    string
	Scopes       []string
	RateLimitRPM int
	Plan         string
	MonthlyQuota *int
	GuardConfig  *apikey.GuardConfig
}

// SessionIdentity is the resolved identity for a session-authenticated
// request.
type SessionIdentity struct {
	UserID    uuid.UUID
	Email     string
	Name      string
	SessionID uuid.UUID
	OrgID     uuid.UUID
	OrgRole   string // "owner" or "member"
}

type apiKeyCtxKey struct{}
type sessionCtxKey struct{}

// NewAPIKeyContext returns a context carrying the resolved API key identity.
func NewAPIKeyContext(ctx context.Context, id *APIKeyIdentity) context.Context {
	return context.WithValue(ctx, apiKeyCtxKey{}, id)
}

// APIKeyFromContext returns the API key identity set by RequireAPIKey, or nil.
func APIKeyFromContext(ctx context.Context) *APIKeyIdentity {
	id, _ := ctx.Value(apiKeyCtxKey{}).(*APIKeyIdentity)
	return id
}

// NewSessionContext returns a context carrying the resolved session identity.
func NewSessionContext(ctx context.Context, id *SessionIdentity) context.Context {
	return context.WithValue(ctx, sessionCtxKey{}, id)
}

// SessionFromContext returns the session identity set by RequireSession, or nil.
func SessionFromContext(ctx context.Context) *SessionIdentity {
	id, _ := ctx.Value(sessionCtxKey{}).(*SessionIdentity)
	return id
}
