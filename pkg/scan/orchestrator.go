package scan

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wisbric/vigil/internal/telemetry"
	"github.com/wisbric/vigil/pkg/sidecar"
)

// Orchestrator drives the Garak scan lifecycle: admission against the
// concurrency gate, a spawned driver task per scan, incremental polling with
// dedup, cancellation, and retest.
type Orchestrator struct {
	store    *Store
	gateway  *sidecar.Gateway
	logger   *slog.Logger
	rootCtx  context.Context
	maxConcurrent int
}

// NewOrchestrator builds an Orchestrator. rootCtx is the application
// lifetime context — driver tasks are independent of any single HTTP
// request and are only torn down when rootCtx is cancelled (graceful
// shutdown), not when the request that started them ends.
func NewOrchestrator(rootCtx context.Context, store *Store, gateway *sidecar.Gateway, logger *slog.Logger, maxConcurrent int) *Orchestrator {
	if maxConcurrent <= 0 {
		maxConcurrent = MaxConcurrentScans
	}
	return &Orchestrator{store: store, gateway: gateway, logger: logger, rootCtx: rootCtx, maxConcurrent: maxConcurrent}
}

// StartRequest is the body of POST /v1/scan/start.
type StartRequest struct {
	ScanType           string                        `json:"scan_type" validate:"required,oneof=quick standard comprehensive custom"`
	Provider           string                        `json:"provider" validate:"required"`
	Model              string                        `json:"model" validate:"required"`
	APIKey             string                        `json:"api_key,omitempty"`
	BaseURL            string                        `json:"base_url,omitempty"`
	Probes             []string                      `json:"probes,omitempty"`
	CustomEndpoint     *sidecar.CustomEndpointConfig `json:"custom_endpoint,omitempty"`
	MaxPromptsPerProbe int                           `json:"max_prompts_per_probe,omitempty"`
}

// Start admits req against the concurrency gate, inserts the queued row, and
// spawns an independent driver task. It returns as soon as the row exists —
// the driver runs detached from the caller's request context.
func (o *Orchestrator) Start(ctx context.Context, orgID, createdBy uuid.UUID, req StartRequest) (Scan, error) {
	active, err := o.store.CountActive(ctx)
	if err != nil {
		return Scan{}, err
	}
	if active >= o.maxConcurrent {
		return Scan{}, ErrTooManyScans
	}

	sc, err := o.store.CreateQueued(ctx, CreateParams{
		OrgID: orgID, CreatedBy: createdBy, ScanType: req.ScanType,
		Provider: req.Provider, Model: req.Model, BaseURL: req.BaseURL,
	})
	if err != nil {
		return Scan{}, err
	}
	telemetry.ScansActiveGauge.Inc()

	driverCtx, cancel := context.WithTimeout(o.rootCtx, MaxDriverLifetime)
	go func() {
		defer cancel()
		o.drive(driverCtx, sc.ID, req)
	}()

	return sc, nil
}

// drive is the per-scan background task: start the sidecar run, then poll
// it to a terminal status, persisting incremental progress along the way.
func (o *Orchestrator) drive(ctx context.Context, scanID uuid.UUID, req StartRequest) {
	logger := o.logger.With("scan_id", scanID)

	if err := o.store.MarkRunning(ctx, scanID); err != nil {
		logger.Error("marking scan running", "error", err)
		return
	}

	customEndpoint := req.CustomEndpoint
	if customEndpoint == nil && req.Provider == "custom" && req.BaseURL != "" {
		customEndpoint = &sidecar.CustomEndpointConfig{BaseURL: req.BaseURL, APIKey: req.APIKey}
	}

	startResp, err := o.gateway.StartGarakScan(ctx, sidecar.StartGarakScanRequest{
		Provider: req.Provider, Model: req.Model, APIKey: req.APIKey, BaseURL: req.BaseURL,
		ScanType: req.ScanType, Probes: req.Probes, CustomEndpoint: customEndpoint,
		MaxPromptsPerProbe: req.MaxPromptsPerProbe,
	})
	if err != nil {
		o.finishFailed(ctx, scanID, "failed to start scan on ML service: "+err.Error())
		return
	}

	if err := o.store.SetRemoteScanID(ctx, scanID, startResp.RemoteScanID); err != nil {
		logger.Error("persisting remote scan id", "error", err)
	}

	o.poll(ctx, scanID, startResp.RemoteScanID, logger)
}

// poll runs the fixed-interval poll loop until a terminal status is
// observed, driven by the sidecar or by user cancellation. There is no
// client-side timeout beyond the driver's overall lifetime bound; when that
// bound expires the expiry is logged and the scan is marked failed.
func (o *Orchestrator) poll(ctx context.Context, scanID uuid.UUID, remoteScanID string, logger *slog.Logger) {
	seenResults := make(map[string]struct{})
	seenLogs := make(map[string]struct{})
	consecutiveFailures := 0

	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				logger.Error("scan driver exceeded its maximum lifetime", "max_lifetime", MaxDriverLifetime)
				failCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				o.finishFailed(failCtx, scanID, "Scan exceeded maximum run time")
				cancel()
			}
			return
		case <-ticker.C:
		}

		status, err := o.store.GetStatus(ctx, scanID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return
			}
			logger.Warn("reading scan status", "error", err)
			continue
		}
		if status == StatusCancelled {
			return
		}

		resp, err := o.gateway.GetGarakStatus(ctx, remoteScanID)
		if err != nil {
			consecutiveFailures++
			logger.Warn("polling garak status", "error", err, "consecutive_failures", consecutiveFailures)
			if consecutiveFailures >= MaxConsecutiveFailures {
				o.finishFailed(ctx, scanID, "Lost connection to ML service")
				return
			}
			continue
		}
		consecutiveFailures = 0

		if err := o.store.UpdateProgress(ctx, scanID, resp.Progress, resp.ProbesCompleted, resp.ProbesTotal, resp.VulnerabilitiesFound); err != nil {
			logger.Warn("updating scan progress", "error", err)
		}

		o.ingestResults(ctx, scanID, resp.Vulnerabilities, seenResults, logger)
		o.ingestLogs(ctx, scanID, resp.ProbeLogs, seenLogs, logger)

		switch resp.Status {
		case StatusCompleted:
			// Final dedup pass for safety — ingestResults is idempotent
			// against seenResults so re-running it here is harmless.
			o.ingestResults(ctx, scanID, resp.Vulnerabilities, seenResults, logger)
			riskScore := overallRiskScore(resp.Vulnerabilities)
			if err := o.store.MarkCompleted(ctx, scanID, riskScore); err != nil {
				logger.Error("marking scan completed", "error", err)
			}
			telemetry.ScansActiveGauge.Dec()
			telemetry.ScansCompletedTotal.WithLabelValues(StatusCompleted).Inc()
			return
		case StatusFailed:
			o.finishFailed(ctx, scanID, resp.ErrorMessage)
			return
		}
	}
}

func (o *Orchestrator) finishFailed(ctx context.Context, scanID uuid.UUID, msg string) {
	if err := o.store.MarkFailed(ctx, scanID, msg); err != nil {
		o.logger.Error("marking scan failed", "error", err, "scan_id", scanID)
	}
	telemetry.ScansActiveGauge.Dec()
	telemetry.ScansCompletedTotal.WithLabelValues(StatusFailed).Inc()
}

func (o *Orchestrator) ingestResults(ctx context.Context, scanID uuid.UUID, vulns []sidecar.GarakVulnerability, seen map[string]struct{}, logger *slog.Logger) {
	for _, v := range vulns {
		key := dedupKey(v.ProbeName, v.ProbeClass, v.AttackPrompt)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		_, err := o.store.InsertResult(ctx, Result{
			ScanID: scanID, ProbeName: v.ProbeName, ProbeClass: v.ProbeClass, Category: v.Category,
			Severity: v.Severity, Description: v.Description, AttackPrompt: v.AttackPrompt,
			ModelResponse: v.ModelResponse, Recommendation: v.Recommendation, SuccessRate: v.SuccessRate,
			DetectorName: v.DetectorName, ProbeDurationMS: v.ProbeDurationMS,
		})
		if err != nil {
			logger.Error("persisting vulnerability", "error", err, "probe", v.ProbeName)
			delete(seen, key) // allow a retry on the next tick
		}
	}
}

func (o *Orchestrator) ingestLogs(ctx context.Context, scanID uuid.UUID, logs []sidecar.GarakProbeLog, seen map[string]struct{}, logger *slog.Logger) {
	for _, l := range logs {
		if l.Status == "running" {
			continue
		}
		key := logKey(l.ProbeName, l.ProbeClass)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		_, err := o.store.InsertLog(ctx, Log{
			ScanID: scanID, ProbeName: l.ProbeName, ProbeClass: l.ProbeClass, Status: l.Status,
			DurationMS: l.DurationMS, PromptsSent: l.PromptsSent, PromptsPassed: l.PromptsPassed,
			PromptsFailed: l.PromptsFailed, DetectorName: l.DetectorName, DetectorScores: l.DetectorScores,
			ErrorMessage: l.ErrorMessage, LogEntries: l.LogEntries,
		})
		if err != nil {
			logger.Error("persisting probe log", "error", err, "probe", l.ProbeName)
			delete(seen, key)
		}
	}
}

// overallRiskScore averages each vulnerability's severity weight, capped at 1.0.
func overallRiskScore(vulns []sidecar.GarakVulnerability) float64 {
	if len(vulns) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vulns {
		sum += severityWeight(v.Severity)
	}
	avg := sum / float64(len(vulns))
	if avg > 1.0 {
		avg = 1.0
	}
	return avg
}

// CancelResult is the outcome of Cancel.
type CancelResult struct {
	Status string
}

// Cancel authorizes the caller as the scan's creator, then signals the
// sidecar (best-effort) and writes a terminal DB status. Cancel on an
// already-terminal scan is idempotent: it returns the current status rather
// than an error.
func (o *Orchestrator) Cancel(ctx context.Context, createdBy, scanID uuid.UUID) (CancelResult, error) {
	sc, err := o.store.GetByID(ctx, createdBy, scanID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CancelResult{}, ErrNotFound
		}
		return CancelResult{}, err
	}

	if sc.Status != StatusQueued && sc.Status != StatusRunning {
		return CancelResult{Status: sc.Status}, nil
	}

	if sc.RemoteScanID != "" {
		if err := o.gateway.CancelGarakScan(ctx, sc.RemoteScanID); err != nil {
			o.logger.Warn("signaling cancel to ml service", "error", err, "scan_id", scanID)
		}
	}

	changed, err := o.store.MarkCancelled(ctx, scanID)
	if err != nil {
		return CancelResult{}, err
	}
	if changed {
		telemetry.ScansActiveGauge.Dec()
		telemetry.ScansCompletedTotal.WithLabelValues(StatusCancelled).Inc()
	}
	return CancelResult{Status: StatusCancelled}, nil
}

// RetestRequest is the body of POST /v1/scan/retest.
type RetestRequest struct {
	VulnerabilityID uuid.UUID `json:"vulnerability_id" validate:"required"`
	Provider        string    `json:"provider" validate:"required"`
	Model           string    `json:"model" validate:"required"`
	APIKey          string    `json:"api_key,omitempty"`
	BaseURL         string    `json:"base_url,omitempty"`
	NumAttempts     int       `json:"num_attempts,omitempty"`
}

// RetestResponse summarizes the retest run.
type RetestResponse struct {
	Attempts         []sidecar.RetestAttempt `json:"attempts"`
	ConfirmationRate float64                 `json:"confirmation_rate"`
	Confirmed        *bool                   `json:"confirmed"`
}

// Retest re-runs a previously found vulnerability's attack prompt
// num_attempts times against the caller-supplied model config, and updates
// the parent result's confirmation counters.
func (o *Orchestrator) Retest(ctx context.Context, createdBy uuid.UUID, req RetestRequest) (RetestResponse, error) {
	n := req.NumAttempts
	if n <= 0 {
		n = 3
	}

	result, err := o.store.GetResult(ctx, createdBy, req.VulnerabilityID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RetestResponse{}, ErrNotFound
		}
		return RetestResponse{}, err
	}

	resp, err := o.gateway.RetestProbe(ctx, sidecar.RetestProbeRequest{
		ProbeClass: result.ProbeClass, AttackPrompt: result.AttackPrompt, NumAttempts: n,
		Provider: req.Provider, Model: req.Model, APIKey: req.APIKey, BaseURL: req.BaseURL,
	})
	if err != nil {
		return RetestResponse{}, err
	}

	vulnerableCount := 0
	now := time.Now()
	for i, a := range resp.Attempts {
		if a.Status == "vulnerable" {
			vulnerableCount++
		}
		if err := o.store.InsertRetest(ctx, Retest{
			ResultID: req.VulnerabilityID, ScanID: result.ScanID, AttemptNumber: i + 1,
			Status: a.Status, ModelResponse: a.ModelResponse, DetectorScore: a.DetectorScore,
			DurationMS: a.DurationMS, ErrorMessage: a.ErrorMessage, CompletedAt: now,
		}); err != nil {
			o.logger.Error("persisting retest attempt", "error", err, "vulnerability_id", req.VulnerabilityID)
		}
	}

	var confirmed *bool
	if len(resp.Attempts) > 0 {
		v := resp.ConfirmationRate >= 0.5
		confirmed = &v
	}

	if err := o.store.UpdateResultAfterRetest(ctx, req.VulnerabilityID, len(resp.Attempts), vulnerableCount, confirmed); err != nil {
		o.logger.Error("updating result after retest", "error", err, "vulnerability_id", req.VulnerabilityID)
	}

	return RetestResponse{Attempts: resp.Attempts, ConfirmationRate: resp.ConfirmationRate, Confirmed: confirmed}, nil
}
