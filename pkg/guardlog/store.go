package guardlog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides read access to persisted guard log entries.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Filter holds the dynamic query parameters accepted by the audit-log
// listing endpoint.
type Filter struct {
	Status      string // "safe" or "threat"
	RequestType string
	Categories  []string // ANY-of array membership
	IPPrefix    string
	From        *time.Time
	To          *time.Time
	Cursor      *uuid.UUID // when set, takes precedence over Page
	Page        int
	PerPage     int
}

// Page is the response envelope for a guard log listing, matching both the
// offset and cursor pagination shapes in a single structure.
type Page struct {
	Items      []Entry `json:"items"`
	Page       int     `json:"page"`
	TotalItems int     `json:"total_items"`
	TotalPages int     `json:"total_pages"`
	NextCursor *string `json:"next_cursor,omitempty"`
	HasNext    bool    `json:"has_next"`
	HasPrev    bool    `json:"has_prev"`
}

// List returns a page of guard log entries for orgID, honoring f's filters
// and pagination mode. When f.Cursor is set, cursor (keyset) pagination is
// used; otherwise offset pagination via f.Page/f.PerPage.
func (s *Store) List(ctx context.Context, orgID uuid.UUID, f Filter) (Page, error) {
	var where []string
	var args []any

	where = append(where, fmt.Sprintf("org_id = $%d", len(args)+1))
	args = append(args, orgID)

	if f.Status == "safe" {
		where = append(where, "is_safe = true")
	} else if f.Status == "threat" {
		where = append(where, "is_safe = false")
	}

	if f.RequestType != "" {
		where = append(where, fmt.Sprintf("request_type = $%d", len(args)+1))
		args = append(args, f.RequestType)
	}

	if len(f.Categories) > 0 {
		where = append(where, fmt.Sprintf("threat_categories && $%d", len(args)+1))
		args = append(args, f.Categories)
	}

	if f.IPPrefix != "" {
		where = append(where, fmt.Sprintf("ip::text LIKE $%d", len(args)+1))
		args = append(args, f.IPPrefix+"%")
	}

	if f.From != nil {
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)+1))
		args = append(args, *f.From)
	}
	if f.To != nil {
		where = append(where, fmt.Sprintf("created_at <= $%d", len(args)+1))
		args = append(args, *f.To)
	}

	var cursorTS time.Time
	usingCursor := f.Cursor != nil
	if usingCursor {
		row := s.pool.QueryRow(ctx, "SELECT created_at FROM guard_log_entries WHERE id = $1", *f.Cursor)
		if err := row.Scan(&cursorTS); err != nil {
			return Page{}, fmt.Errorf("resolving cursor: %w", err)
		}
		where = append(where, fmt.Sprintf("(created_at, id) < ($%d, $%d)", len(args)+1, len(args)+2))
		args = append(args, cursorTS, *f.Cursor)
	}

	whereClause := strings.Join(where, " AND ")

	perPage := f.PerPage
	if perPage <= 0 {
		perPage = 50
	}
	if perPage > 200 {
		perPage = 200
	}

	var total int
	countSQL := "SELECT count(*) FROM guard_log_entries WHERE " + whereClause
	if err := s.pool.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return Page{}, fmt.Errorf("counting guard log entries: %w", err)
	}

	offset := 0
	if !usingCursor {
		page := f.Page
		if page < 1 {
			page = 1
		}
		offset = (page - 1) * perPage
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM guard_log_entries
		WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d`, entryColumns, whereClause, len(args)+1, len(args)+2)
	queryArgs := append(append([]any{}, args...), perPage, offset)

	rows, err := s.pool.Query(ctx, query, queryArgs...)
	if err != nil {
		return Page{}, fmt.Errorf("listing guard log entries: %w", err)
	}
	defer rows.Close()

	var items []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return Page{}, fmt.Errorf("scanning guard log entry: %w", err)
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return Page{}, fmt.Errorf("iterating guard log entries: %w", err)
	}

	page := Page{
		Items:      items,
		TotalItems: total,
		TotalPages: (total + perPage - 1) / perPage,
		HasPrev:    usingCursor,
	}
	if usingCursor {
		page.Page = 0
	} else {
		page.Page = f.Page
		if page.Page < 1 {
			page.Page = 1
		}
		page.HasPrev = page.Page > 1
	}

	if len(items) == perPage && (offset+perPage) < total || (usingCursor && len(items) == perPage) {
		page.HasNext = true
		id := items[len(items)-1].ID.String()
		page.NextCursor = &id
	}

	return page, nil
}

const entryColumns = `id, org_id, api_key_id, prompt_hash, is_safe, risk_score,
	threats_detected, threat_categories, latency_ms, cached, coalesce(ip::text,''), coalesce(prompt_text,''),
	coalesce(sanitized_prompt,''), request_type, scan_options, coalesce(user_agent,''), response_id, created_at`

type scannable interface {
	Scan(dest ...any) error
}

func scanEntry(row scannable) (Entry, error) {
	var e Entry
	var responseID *uuid.UUID
	var threats, scanOptions []byte
	if err := row.Scan(
		&e.ID, &e.OrgID, &e.APIKeyID, &e.PromptHash, &e.IsSafe, &e.RiskScore,
		&threats, &e.ThreatCategories, &e.LatencyMS, &e.Cached, &e.IP, &e.PromptText,
		&e.SanitizedPrompt, &e.RequestType, &scanOptions, &e.UserAgent, &responseID, &e.CreatedAt,
	); err != nil {
		return Entry{}, err
	}
	e.ThreatsDetected = threats
	e.ScanOptions = scanOptions
	if responseID != nil {
		e.ResponseID = *responseID
	}
	return e, nil
}

// Stats aggregates guard log activity for an organization.
type Stats struct {
	TotalScans    int64   `json:"total_scans"`
	ThreatsBlocked int64  `json:"threats_blocked"`
	SafePrompts   int64   `json:"safe_prompts"`
	AvgLatencyMS  float64 `json:"avg_latency_ms"`
}

// Stats computes aggregate counters for orgID over all time.
func (s *Store) Stats(ctx context.Context, orgID uuid.UUID) (Stats, error) {
	var st Stats
	row := s.pool.QueryRow(ctx, `
		SELECT
			count(*),
			count(*) FILTER (WHERE is_safe = false),
			count(*) FILTER (WHERE is_safe = true),
			coalesce(avg(latency_ms), 0)
		FROM guard_log_entries
		WHERE org_id = $1`, orgID)
	if err := row.Scan(&st.TotalScans, &st.ThreatsBlocked, &st.SafePrompts, &st.AvgLatencyMS); err != nil {
		return Stats{}, fmt.Errorf("computing guard log stats: %w", err)
	}
	return st, nil
}
