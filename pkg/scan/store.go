package scan

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides database operations for scans, results, logs, and retests.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const scanColumns = `id, org_id, created_by, scan_type, status, progress,
	probes_total, probes_completed, vulnerabilities_found, risk_score,
	coalesce(error_message,''), provider, model, coalesce(base_url,''),
	coalesce(remote_scan_id,''), created_at, started_at, completed_at`

func scanScanRow(row pgx.Row) (Scan, error) {
	var s Scan
	err := row.Scan(
		&s.ID, &s.OrgID, &s.CreatedBy, &s.ScanType, &s.Status, &s.Progress,
		&s.ProbesTotal, &s.ProbesCompleted, &s.VulnerabilitiesFound, &s.RiskScore,
		&s.ErrorMessage, &s.Provider, &s.Model, &s.BaseURL,
		&s.RemoteScanID, &s.CreatedAt, &s.StartedAt, &s.CompletedAt,
	)
	return s, err
}

// CreateParams holds the fields needed to admit a new scan.
type CreateParams struct {
	OrgID     uuid.UUID
	CreatedBy uuid.UUID
	ScanType  string
	Provider  string
	Model     string
	BaseURL   string
}

// CountActive returns the number of scans in {queued, running} across the
// whole deployment. This is the concurrency gate's source of truth —
// deliberately a DB count rather than an in-process counter, to avoid the
// underflow a cancel/completion race would cause against an in-memory one.
func (s *Store) CountActive(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM scans WHERE status IN ('queued','running')`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting active scans: %w", err)
	}
	return n, nil
}

// CreateQueued inserts a new scan row with status=queued.
func (s *Store) CreateQueued(ctx context.Context, p CreateParams) (Scan, error) {
	query := `INSERT INTO scans (org_id, created_by, scan_type, status, provider, model, base_url)
		VALUES ($1, $2, $3, 'queued', $4, $5, $6)
		RETURNING ` + scanColumns
	return scanScanRow(s.pool.QueryRow(ctx, query, p.OrgID, p.CreatedBy, p.ScanType, p.Provider, p.Model, nullableString(p.BaseURL)))
}

// GetByID fetches a scan, scoped to the creator (ownership per §3: "only the
// creator may view/cancel it").
func (s *Store) GetByID(ctx context.Context, createdBy, id uuid.UUID) (Scan, error) {
	query := `SELECT ` + scanColumns + ` FROM scans WHERE id = $1 AND created_by = $2`
	return scanScanRow(s.pool.QueryRow(ctx, query, id, createdBy))
}

// GetByIDUnscoped fetches a scan by id alone, without the creator scope.
func (s *Store) GetByIDUnscoped(ctx context.Context, id uuid.UUID) (Scan, error) {
	query := `SELECT ` + scanColumns + ` FROM scans WHERE id = $1`
	return scanScanRow(s.pool.QueryRow(ctx, query, id))
}

// GetStatus returns just the status column, used by the driver's poll loop
// to detect a user cancellation cheaply.
func (s *Store) GetStatus(ctx context.Context, id uuid.UUID) (string, error) {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM scans WHERE id = $1`, id).Scan(&status)
	return status, err
}

// List returns scans created by createdBy, newest first.
func (s *Store) List(ctx context.Context, createdBy uuid.UUID, limit, offset int) ([]Scan, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM scans WHERE created_by = $1`, createdBy).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting scans: %w", err)
	}

	query := `SELECT ` + scanColumns + ` FROM scans WHERE created_by = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	rows, err := s.pool.Query(ctx, query, createdBy, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing scans: %w", err)
	}
	defer rows.Close()

	var items []Scan
	for rows.Next() {
		sc, err := scanScanRow(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning scan row: %w", err)
		}
		items = append(items, sc)
	}
	return items, total, rows.Err()
}

// MarkRunning transitions queued -> running.
func (s *Store) MarkRunning(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `UPDATE scans SET status = 'running', started_at = now() WHERE id = $1`, id)
	return err
}

// SetRemoteScanID persists the sidecar-assigned scan id. Without it, cancel
// cannot signal the sidecar.
func (s *Store) SetRemoteScanID(ctx context.Context, id uuid.UUID, remoteScanID string) error {
	_, err := s.pool.Exec(ctx, `UPDATE scans SET remote_scan_id = $2 WHERE id = $1`, id, remoteScanID)
	return err
}

// UpdateProgress updates the polled counters.
func (s *Store) UpdateProgress(ctx context.Context, id uuid.UUID, progress, probesCompleted, probesTotal, vulnerabilitiesFound int) error {
	_, err := s.pool.Exec(ctx, `UPDATE scans SET progress = $2, probes_completed = $3, probes_total = $4, vulnerabilities_found = $5 WHERE id = $1`,
		id, progress, probesCompleted, probesTotal, vulnerabilitiesFound)
	return err
}

// MarkCompleted transitions to the completed terminal state.
func (s *Store) MarkCompleted(ctx context.Context, id uuid.UUID, riskScore float64) error {
	_, err := s.pool.Exec(ctx, `UPDATE scans SET status = 'completed', risk_score = $2, completed_at = now() WHERE id = $1`, id, riskScore)
	return err
}

// MarkFailed transitions to the failed terminal state.
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	_, err := s.pool.Exec(ctx, `UPDATE scans SET status = 'failed', error_message = $2, completed_at = now() WHERE id = $1`, id, errMsg)
	return err
}

// MarkCancelled transitions queued/running -> cancelled. The WHERE clause
// makes this safe to call even if the scan has already reached a terminal
// state concurrently (e.g. the driver just completed it) — it becomes a
// no-op rather than clobbering a real outcome.
func (s *Store) MarkCancelled(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE scans SET status = 'cancelled', error_message = 'Cancelled by user', completed_at = now()
		WHERE id = $1 AND status IN ('queued','running')`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

const resultColumns = `id, scan_id, probe_name, probe_class, category, severity,
	description, attack_prompt, model_response, coalesce(recommendation,''),
	success_rate, coalesce(detector_name,''), probe_duration_ms, confirmed,
	retest_count, retest_confirmed, created_at`

func scanResultRow(row pgx.Row) (Result, error) {
	var r Result
	err := row.Scan(
		&r.ID, &r.ScanID, &r.ProbeName, &r.ProbeClass, &r.Category, &r.Severity,
		&r.Description, &r.AttackPrompt, &r.ModelResponse, &r.Recommendation,
		&r.SuccessRate, &r.DetectorName, &r.ProbeDurationMS, &r.Confirmed,
		&r.RetestCount, &r.RetestConfirmed, &r.CreatedAt,
	)
	return r, err
}

// InsertResult persists a single vulnerability finding.
func (s *Store) InsertResult(ctx context.Context, r Result) (Result, error) {
	query := `INSERT INTO scan_results
		(scan_id, probe_name, probe_class, category, severity, description, attack_prompt,
		 model_response, recommendation, success_rate, detector_name, probe_duration_ms)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING ` + resultColumns
	return scanResultRow(s.pool.QueryRow(ctx, query,
		r.ScanID, r.ProbeName, r.ProbeClass, r.Category, r.Severity, r.Description, r.AttackPrompt,
		r.ModelResponse, nullableString(r.Recommendation), r.SuccessRate, nullableString(r.DetectorName), r.ProbeDurationMS))
}

// ListResults returns persisted results for a scan, newest first.
func (s *Store) ListResults(ctx context.Context, scanID uuid.UUID, limit, offset int) ([]Result, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM scan_results WHERE scan_id = $1`, scanID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting scan results: %w", err)
	}

	query := `SELECT ` + resultColumns + ` FROM scan_results WHERE scan_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	rows, err := s.pool.Query(ctx, query, scanID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing scan results: %w", err)
	}
	defer rows.Close()

	var items []Result
	for rows.Next() {
		r, err := scanResultRow(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning scan result row: %w", err)
		}
		items = append(items, r)
	}
	return items, total, rows.Err()
}

// ListResultsSince returns the results after the first `since` rows (by
// created_at ordering), used by the scan SSE watcher to stream only newly
// appeared rows, fetched in a single batch per tick.
func (s *Store) ListResultsSince(ctx context.Context, scanID uuid.UUID, since int) ([]Result, error) {
	query := `SELECT ` + resultColumns + ` FROM scan_results WHERE scan_id = $1 ORDER BY created_at ASC OFFSET $2`
	rows, err := s.pool.Query(ctx, query, scanID, since)
	if err != nil {
		return nil, fmt.Errorf("listing new scan results: %w", err)
	}
	defer rows.Close()

	var items []Result
	for rows.Next() {
		r, err := scanResultRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning scan result row: %w", err)
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

const resultColumnsAliased = `r.id, r.scan_id, r.probe_name, r.probe_class, r.category, r.severity,
	r.description, r.attack_prompt, r.model_response, coalesce(r.recommendation,''),
	r.success_rate, coalesce(r.detector_name,''), r.probe_duration_ms, r.confirmed,
	r.retest_count, r.retest_confirmed, r.created_at`

// GetResult fetches a single result, scoped through its parent scan's
// creator so retest cannot be invoked against another user's vulnerability.
func (s *Store) GetResult(ctx context.Context, createdBy, resultID uuid.UUID) (Result, error) {
	query := `SELECT ` + resultColumnsAliased + `
		FROM scan_results r JOIN scans sc ON sc.id = r.scan_id
		WHERE r.id = $1 AND sc.created_by = $2`
	return scanResultRow(s.pool.QueryRow(ctx, query, resultID, createdBy))
}

// UpdateResultAfterRetest bumps the retest counters and recomputes the
// confirmed tri-state.
func (s *Store) UpdateResultAfterRetest(ctx context.Context, resultID uuid.UUID, attempts, vulnerable int, confirmed *bool) error {
	_, err := s.pool.Exec(ctx, `UPDATE scan_results
		SET retest_count = retest_count + $2, retest_confirmed = retest_confirmed + $3, confirmed = $4
		WHERE id = $1`, resultID, attempts, vulnerable, confirmed)
	return err
}

const logColumns = `id, scan_id, probe_name, probe_class, status, started_at, completed_at,
	duration_ms, prompts_sent, prompts_passed, prompts_failed, coalesce(detector_name,''),
	detector_scores, coalesce(error_message,''), log_entries, created_at`

func scanLogRow(row pgx.Row) (Log, error) {
	var l Log
	var entriesJSON []byte
	err := row.Scan(
		&l.ID, &l.ScanID, &l.ProbeName, &l.ProbeClass, &l.Status, &l.StartedAt, &l.CompletedAt,
		&l.DurationMS, &l.PromptsSent, &l.PromptsPassed, &l.PromptsFailed, &l.DetectorName,
		&l.DetectorScores, &l.ErrorMessage, &entriesJSON, &l.CreatedAt,
	)
	if err != nil {
		return Log{}, err
	}
	if len(entriesJSON) > 0 {
		if err := json.Unmarshal(entriesJSON, &l.LogEntries); err != nil {
			return Log{}, fmt.Errorf("decoding log_entries: %w", err)
		}
	}
	return l, nil
}

// InsertLog persists a completed (non-running) probe log.
func (s *Store) InsertLog(ctx context.Context, l Log) (Log, error) {
	entriesJSON, err := json.Marshal(l.LogEntries)
	if err != nil {
		return Log{}, fmt.Errorf("encoding log_entries: %w", err)
	}

	query := `INSERT INTO scan_logs
		(scan_id, probe_name, probe_class, status, started_at, completed_at, duration_ms,
		 prompts_sent, prompts_passed, prompts_failed, detector_name, detector_scores, error_message, log_entries)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING ` + logColumns
	return scanLogRow(s.pool.QueryRow(ctx, query,
		l.ScanID, l.ProbeName, l.ProbeClass, l.Status, l.StartedAt, l.CompletedAt, l.DurationMS,
		l.PromptsSent, l.PromptsPassed, l.PromptsFailed, nullableString(l.DetectorName),
		nullableJSON(l.DetectorScores), nullableString(l.ErrorMessage), entriesJSON))
}

// ListLogs returns persisted probe logs for a scan.
func (s *Store) ListLogs(ctx context.Context, scanID uuid.UUID) ([]Log, error) {
	query := `SELECT ` + logColumns + ` FROM scan_logs WHERE scan_id = $1 ORDER BY created_at ASC`
	rows, err := s.pool.Query(ctx, query, scanID)
	if err != nil {
		return nil, fmt.Errorf("listing scan logs: %w", err)
	}
	defer rows.Close()

	var items []Log
	for rows.Next() {
		l, err := scanLogRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning scan log row: %w", err)
		}
		items = append(items, l)
	}
	return items, rows.Err()
}

// InsertRetest persists a single retest attempt.
func (s *Store) InsertRetest(ctx context.Context, r Retest) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO scan_retests
		(result_id, scan_id, attempt_number, status, model_response, detector_score, duration_ms, error_message, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		r.ResultID, r.ScanID, r.AttemptNumber, r.Status, r.ModelResponse, r.DetectorScore, r.DurationMS, nullableString(r.ErrorMessage), r.CompletedAt)
	return err
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
