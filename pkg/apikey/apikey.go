// Package apikey implements the ApiKey entity: CRUD for dashboard users and
// the GuardConfig policy embedded on each key.
package apikey

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// DefaultRateLimitRPM is used when an ApiKey row has no explicit rate_limit_rpm.
const DefaultRateLimitRPM = 1000

// GuardConfig is the per-API-key default scanner policy, embedded as JSON on
// the ApiKey row. It is resolved against per-request overrides by
// pkg/policy.
type GuardConfig struct {
	ScanMode       string                    `json:"scan_mode"`
	InputScanners  map[string]ScannerSetting `json:"input_scanners"`
	OutputScanners map[string]ScannerSetting `json:"output_scanners"`
	Sanitize       bool                      `json:"sanitize"`
	FailFast       bool                      `json:"fail_fast"`
}

// ScannerSetting configures one named scanner.
type ScannerSetting struct {
	Enabled   bool    `json:"enabled"`
	Threshold float64 `json:"threshold"`
	Settings  string  `json:"settings,omitempty"`
}

const (
	ScanModePromptOnly = "prompt_only"
	ScanModeOutputOnly = "output_only"
	ScanModeBoth       = "both"
)

// ValidScanMode reports whether mode is one of the three literals spec.md
// allows.
func ValidScanMode(mode string) bool {
	switch mode {
	case ScanModePromptOnly, ScanModeOutputOnly, ScanModeBoth:
		return true
	default:
		return false
	}
}

// Validate checks GuardConfig invariants: scan_mode, when set, is one of the
// three literals, and every scanner threshold lies in [0,1].
func (c GuardConfig) Validate() error {
	if c.ScanMode != "" && !ValidScanMode(c.ScanMode) {
		return errInvalidScanMode(c.ScanMode)
	}
	for name, s := range c.InputScanners {
		if s.Threshold < 0 || s.Threshold > 1 {
			return errInvalidThreshold(name, s.Threshold)
		}
	}
	for name, s := range c.OutputScanners {
		if s.Threshold < 0 || s.Threshold > 1 {
			return errInvalidThreshold(name, s.Threshold)
		}
	}
	return nil
}

// ApiKey is a row from the api_keys table.
type ApiKey struct {
	ID            uuid.UUID
	OrgID         uuid.UUID
	DisplayName   string
	KeyPrefix     string
	KeyHash       string
	Scopes        []string
	RateLimitRPM  int
	Plan          string
	MonthlyQuota  *int
	GuardConfig   *GuardConfig
	ExpiresAt     pgtype.Timestamptz
	RevokedAt     pgtype.Timestamptz
	LastUsedAt    pgtype.Timestamptz
	CreatedBy     uuid.UUID
	CreatedAt     time.Time
}

// Active reports whether the key admits requests: not revoked, not expired.
func (k *ApiKey) Active() bool {
	if k.RevokedAt.Valid {
		return false
	}
	if k.ExpiresAt.Valid && k.ExpiresAt.Time.Before(time.Now()) {
		return false
	}
	return true
}

// EffectiveRateLimitRPM returns RateLimitRPM, falling back to the default
// when unset (zero).
func (k *ApiKey) EffectiveRateLimitRPM() int {
	if k.RateLimitRPM <= 0 {
		return DefaultRateLimitRPM
	}
	return k.RateLimitRPM
}

// CreateRequest is the JSON body for POST /v1/api-keys.
type CreateRequest struct {
	DisplayName  string       `json:"display_name" validate:"required,min=1,max=255"`
	Scopes       []string     `json:"scopes"`
	RateLimitRPM int          `json:"rate_limit_rpm"`
	MonthlyQuota *int         `json:"monthly_quota"`
	GuardConfig  *GuardConfig `json:"guard_config"`
}

// Response is the JSON response for a single key, never including the secret.
type Response struct {
	ID           uuid.UUID    `json:"id"`
	DisplayName  string       `json:"display_name"`
	KeyPrefix    string       `json:"key_prefix"`
	Scopes       []string     `json:"scopes"`
	RateLimitRPM int          `json:"rate_limit_rpm"`
	Plan         string       `json:"plan"`
	MonthlyQuota *int         `json:"monthly_quota,omitempty"`
	GuardConfig  *GuardConfig `json:"guard_config,omitempty"`
	ExpiresAt    *time.Time   `json:"expires_at,omitempty"`
	RevokedAt    *time.Time   `json:"revoked_at,omitempty"`
	LastUsedAt   *time.Time   `json:"last_used_at,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

// CreateResponse includes the plaintext secret, shown only once.
type CreateResponse struct {
	Response
	APIKey string `json:"api_key"`
}

// ToResponse converts an ApiKey row to its public DTO.
func (k *ApiKey) ToResponse() Response {
	resp := Response{
		ID:           k.ID,
		DisplayName:  k.DisplayName,
		KeyPrefix:    k.KeyPrefix,
		Scopes:       ensureSlice(k.Scopes),
		RateLimitRPM: k.EffectiveRateLimitRPM(),
		Plan:         k.Plan,
		MonthlyQuota: k.MonthlyQuota,
		GuardConfig:  k.GuardConfig,
		CreatedAt:    k.CreatedAt,
	}
	if k.ExpiresAt.Valid {
		t := k.ExpiresAt.Time
		resp.ExpiresAt = &t
	}
	if k.RevokedAt.Valid {
		t := k.RevokedAt.Time
		resp.RevokedAt = &t
	}
	if k.LastUsedAt.Valid {
		t := k.LastUsedAt.Time
		resp.LastUsedAt = &t
	}
	return resp
}

func ensureSlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
