package apikey

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/vigil/internal/cryptoutil"
)

// Service encapsulates API key business logic.
type Service struct {
	store  *Store
	logger *slog.Logger
}

// NewService creates an API key Service backed by the given pool.
func NewService(pool *pgxpool.Pool, logger *slog.Logger) *Service {
	return &Service{
		store:  NewStore(pool),
		logger: logger,
	}
}

// List returns all API keys for the given organization.
func (s *Service) List(ctx context.Context, orgID uuid.UUID) ([]Response, error) {
	rows, err := s.store.List(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("listing api keys: %w", err)
	}

	items := make([]Response, 0, len(rows))
	for i := range rows {
		items = append(items, rows[i].ToResponse())
	}
	return items, nil
}

// Create generates a new API key secret, stores its hash, and returns the
// plaintext secret once.
func (s *Service) Create(ctx context.Context, orgID, createdBy uuid.UUID, req CreateRequest) (CreateResponse, error) {
	if req.GuardConfig != nil {
		if err := req.GuardConfig.Validate(); err != nil {
			return CreateResponse{}, &ValidationError{Err: err}
		}
	}

	generated, err := cryptoutil.GenerateAPIKey()
	if err != nil {
		return CreateResponse{}, fmt.Errorf("generating api key: %w", err)
	}
	hash := cryptoutil.HashAPIKey(generated.Secret)

	plan := "basic"
	row, err := s.store.Create(ctx, CreateParams{
		OrgID:        orgID,
		DisplayName:  req.DisplayName,
		KeyPrefix:    generated.Prefix,
		KeyHash:      hash,
		Scopes:       req.Scopes,
		RateLimitRPM: req.RateLimitRPM,
		Plan:         plan,
		MonthlyQuota: req.MonthlyQuota,
		GuardConfig:  req.GuardConfig,
		CreatedBy:    createdBy,
	})
	if err != nil {
		return CreateResponse{}, fmt.Errorf("creating api key: %w", err)
	}

	return CreateResponse{
		Response: row.ToResponse(),
		APIKey:   generated.Secret,
	}, nil
}

// Revoke marks an API key as revoked; revoked keys never admit requests.
func (s *Service) Revoke(ctx context.Context, orgID, id uuid.UUID) error {
	if err := s.store.Revoke(ctx, orgID, id); err != nil {
		return fmt.Errorf("revoking api key: %w", err)
	}
	return nil
}
