package auth

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SessionAuthenticator validates session tokens by SQL lookup only. Sessions
// are minted by an external collaborator; this package never issues one.
type SessionAuthenticator struct {
	pool *pgxpool.Pool
}

// NewSessionAuthenticator builds a session authenticator backed by pool.
func NewSessionAuthenticator(pool *pgxpool.Pool) *SessionAuthenticator {
	return &SessionAuthenticator{pool: pool}
}

// ErrInvalidSession covers unknown, expired, and malformed session tokens.
var ErrInvalidSession = fmt.Errorf("invalid or expired session")

const sessionLookupQuery = `
SELECT
	s.id,
	s.user_id,
	u.email,
	u.name,
	m.org_id,
	m.role
FROM sessions s
JOIN users u ON u.id = s.user_id
LEFT JOIN organization_members m ON m.user_id = s.user_id
WHERE s.token = $1
  AND s.expires_at > now()
`

// Authenticate looks up token against the session store and joins through to
// the caller's organization membership. A session with no organization
// membership yet (first login, before an org is provisioned) authenticates
// with a zero OrgID; callers that require an org must check for that.
func (a *SessionAuthenticator) Authenticate(ctx context.Context, token string) (*SessionIdentity, error) {
	if token == "" {
		return nil, ErrInvalidSession
	}

	var (
		id      SessionIdentity
		orgID   *uuid.UUID
		orgRole *string
	)

	row := a.pool.QueryRow(ctx, sessionLookupQuery, token)
	if err := row.Scan(&id.SessionID, &id.UserID, &id.Email, &id.Name, &orgID, &orgRole); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrInvalidSession
		}
		return nil, fmt.Errorf("looking up session: %w", err)
	}

	if orgID != nil {
		id.OrgID = *orgID
	}
	if orgRole != nil {
		id.OrgRole = *orgRole
	}

	return &id, nil
}
