package apikey

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const apiKeyColumns = `id, org_id, display_name, key_prefix, key_hash, scopes,
	rate_limit_rpm, plan, monthly_quota, guard_config, expires_at, revoked_at,
	last_used_at, created_by, created_at`

// Store provides database operations for API keys.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates an API key Store backed by the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// CreateParams holds parameters for creating an API key.
type CreateParams struct {
	OrgID        uuid.UUID
	DisplayName  string
	KeyPrefix    string
	KeyHash      string
	Scopes       []string
	RateLimitRPM int
	Plan         string
	MonthlyQuota *int
	GuardConfig  *GuardConfig
	CreatedBy    uuid.UUID
}

func scanAPIKeyRow(row pgx.Row) (ApiKey, error) {
	var k ApiKey
	var guardConfigJSON []byte
	err := row.Scan(
		&k.ID, &k.OrgID, &k.DisplayName, &k.KeyPrefix, &k.KeyHash, &k.Scopes,
		&k.RateLimitRPM, &k.Plan, &k.MonthlyQuota, &guardConfigJSON,
		&k.ExpiresAt, &k.RevokedAt, &k.LastUsedAt, &k.CreatedBy, &k.CreatedAt,
	)
	if err != nil {
		return ApiKey{}, err
	}
	if len(guardConfigJSON) > 0 {
		var gc GuardConfig
		if err := json.Unmarshal(guardConfigJSON, &gc); err != nil {
			return ApiKey{}, fmt.Errorf("decoding guard_config: %w", err)
		}
		k.GuardConfig = &gc
	}
	return k, nil
}

// GetByHash looks up an API key by its SHA-256 hash. Used on every admitted
// request.
func (s *Store) GetByHash(ctx context.Context, hash string) (ApiKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE key_hash = $1`
	return scanAPIKeyRow(s.pool.QueryRow(ctx, query, hash))
}

// GetByID fetches a single key by ID, scoped to an organization.
func (s *Store) GetByID(ctx context.Context, orgID, id uuid.UUID) (ApiKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE id = $1 AND org_id = $2`
	return scanAPIKeyRow(s.pool.QueryRow(ctx, query, id, orgID))
}

// List returns all API keys for an organization.
func (s *Store) List(ctx context.Context, orgID uuid.UUID) ([]ApiKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE org_id = $1 ORDER BY created_at DESC`
	rows, err := s.pool.Query(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("listing api keys: %w", err)
	}
	defer rows.Close()

	var items []ApiKey
	for rows.Next() {
		k, err := scanAPIKeyRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning api key row: %w", err)
		}
		items = append(items, k)
	}
	return items, rows.Err()
}

// Create inserts a new API key and returns the created row.
func (s *Store) Create(ctx context.Context, p CreateParams) (ApiKey, error) {
	var guardConfigJSON []byte
	if p.GuardConfig != nil {
		var err error
		guardConfigJSON, err = json.Marshal(p.GuardConfig)
		if err != nil {
			return ApiKey{}, fmt.Errorf("encoding guard_config: %w", err)
		}
	}

	query := `INSERT INTO api_keys
		(org_id, display_name, key_prefix, key_hash, scopes, rate_limit_rpm, plan, monthly_quota, guard_config, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING ` + apiKeyColumns

	row := s.pool.QueryRow(ctx, query,
		p.OrgID, p.DisplayName, p.KeyPrefix, p.KeyHash, p.Scopes,
		p.RateLimitRPM, p.Plan, p.MonthlyQuota, guardConfigJSON, p.CreatedBy,
	)
	return scanAPIKeyRow(row)
}

// Revoke sets revoked_at on a key owned by orgID.
func (s *Store) Revoke(ctx context.Context, orgID, id uuid.UUID) error {
	query := `UPDATE api_keys SET revoked_at = now() WHERE id = $1 AND org_id = $2 AND revoked_at IS NULL`
	tag, err := s.pool.Exec(ctx, query, id, orgID)
	if err != nil {
		return fmt.Errorf("revoking api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// TouchLastUsed stamps last_used_at. Called fire-and-forget after admission.
func (s *Store) TouchLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `UPDATE api_keys SET last_used_at = now() WHERE id = $1`, id)
	return err
}

// PlanForOrg reports the plan for an organization, used as a fallback in the
// monthly quota resolution order (§4.2 step 4).
func (s *Store) PlanForOrg(ctx context.Context, orgID uuid.UUID) (string, error) {
	var plan string
	err := s.pool.QueryRow(ctx, `SELECT plan FROM organizations WHERE id = $1`, orgID).Scan(&plan)
	return plan, err
}
