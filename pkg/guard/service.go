package guard

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/vigil/internal/auth"
	"github.com/wisbric/vigil/internal/cryptoutil"
	"github.com/wisbric/vigil/internal/telemetry"
	"github.com/wisbric/vigil/pkg/apikey"
	"github.com/wisbric/vigil/pkg/guardlog"
	"github.com/wisbric/vigil/pkg/policy"
	"github.com/wisbric/vigil/pkg/ratelimit"
	"github.com/wisbric/vigil/pkg/sidecar"
)

// Service implements the guard request-scoped scan pipeline.
type Service struct {
	gateway *sidecar.Gateway
	limiter *ratelimit.Limiter
	writer  *guardlog.Writer
	keys    *apikey.Store
}

// NewService builds a Service wiring the gateway, limiter, write buffer, and
// the api key store (consulted for the quota resolution order's
// organization-plan fallback).
func NewService(gateway *sidecar.Gateway, limiter *ratelimit.Limiter, writer *guardlog.Writer, keys *apikey.Store) *Service {
	return &Service{gateway: gateway, limiter: limiter, writer: writer, keys: keys}
}

// AdmissionResult is the outcome of the shared limiter/quota preamble.
type AdmissionResult struct {
	Allowed    bool
	Code       string // "RATE_LIMITED" or "QUOTA_EXCEEDED"
	RetryAfter time.Duration
	QuotaUsed  int
	QuotaLimit int
}

// Admit applies the per-minute limiter then the monthly quota, in that
// order, charging a single unit of quota on success.
func (s *Service) Admit(ctx context.Context, key *auth.APIKeyIdentity) AdmissionResult {
	rl := s.limiter.Check(ctx, key.APIKeyID, key.RateLimitRPM)
	if !rl.Allowed {
		telemetry.RateLimitDeniedTotal.WithLabelValues("rate_limit").Inc()
		return AdmissionResult{Allowed: false, Code: "RATE_LIMITED", RetryAfter: rl.RetryAfter}
	}

	quotaLimit := s.effectiveQuota(ctx, key)
	qr, err := s.limiter.CheckAndIncrement(ctx, key.APIKeyID, quotaLimit)
	if err != nil {
		// A counter-store failure admits the request without charging the
		// quota; the failure is logged through the default logger.
		slog.Warn("monthly quota check failed, admitting request", "api_key_id", key.APIKeyID, "error", err)
		return AdmissionResult{Allowed: true}
	}
	if !qr.Allowed {
		telemetry.RateLimitDeniedTotal.WithLabelValues("quota").Inc()
		return AdmissionResult{Allowed: false, Code: "QUOTA_EXCEEDED", QuotaUsed: qr.Used, QuotaLimit: quotaLimit}
	}

	return AdmissionResult{Allowed: true}
}

// AdmitBatch applies the per-minute limiter once (charging it a single
// unit), then peeks the monthly quota for n remaining slots without
// charging it, and only if the peek shows enough headroom charges the quota
// by n. A failed peek or increment admits the batch.
func (s *Service) AdmitBatch(ctx context.Context, key *auth.APIKeyIdentity, n int) AdmissionResult {
	rl := s.limiter.Check(ctx, key.APIKeyID, key.RateLimitRPM)
	if !rl.Allowed {
		telemetry.RateLimitDeniedTotal.WithLabelValues("rate_limit").Inc()
		return AdmissionResult{Allowed: false, Code: "RATE_LIMITED", RetryAfter: rl.RetryAfter}
	}

	quotaLimit := s.effectiveQuota(ctx, key)
	peek, err := s.limiter.Peek(ctx, key.APIKeyID, quotaLimit)
	if err == nil && (!peek.Allowed || peek.Remaining < n) {
		telemetry.RateLimitDeniedTotal.WithLabelValues("quota").Inc()
		return AdmissionResult{Allowed: false, Code: "QUOTA_EXCEEDED", QuotaUsed: peek.Used, QuotaLimit: quotaLimit}
	}

	if _, err := s.limiter.IncrementBy(ctx, key.APIKeyID, int64(n)); err != nil {
		return AdmissionResult{Allowed: true}
	}

	return AdmissionResult{Allowed: true}
}

// effectiveQuota implements the quota resolution order (§4.2): an explicit
// per-key override, then the key's own plan, then the organization's plan,
// then the Basic default. The owning user's subscription plan step is not
// applied: ResolveQuota always receives an empty user plan.
func (s *Service) effectiveQuota(ctx context.Context, key *auth.APIKeyIdentity) int {
	orgPlan, err := s.keys.PlanForOrg(ctx, key.OrgID)
	if err != nil {
		orgPlan = ""
	}
	return ratelimit.ResolveQuota(key.MonthlyQuota, key.Plan, "", orgPlan)
}

// ScanPrompt runs the single-scan pipeline: either the advanced path (when
// the key carries a GuardConfig) or the legacy simple path.
func (s *Service) ScanPrompt(ctx context.Context, key *auth.APIKeyIdentity, req ScanRequest, ip, userAgent string) (ScanResponse, error) {
	start := time.Now()

	var (
		raw    *sidecar.ScanResponse
		cached bool
		err    error
	)

	if key.GuardConfig != nil {
		opts := policy.Resolve(policy.Request{Key: key.GuardConfig})
		raw, cached, err = s.gateway.AdvancedScan(ctx, sidecar.AdvancedScanRequest{Prompt: req.Prompt, Options: opts})
	} else {
		simple := req.Options
		if simple == nil {
			simple = &SimpleOptions{}
		}
		raw, cached, err = s.gateway.ScanPrompt(ctx, req.Prompt, sidecar.ScanPromptRequest{
			Prompt:         req.Prompt,
			CheckInjection: simple.CheckInjection,
			CheckToxicity:  simple.CheckToxicity,
			CheckPII:       simple.CheckPII,
			Sanitize:       simple.Sanitize,
		})
	}
	if err != nil {
		telemetry.GuardScansTotal.WithLabelValues(guardlog.RequestTypeScan, "error").Inc()
		return ScanResponse{}, err
	}

	resp := toScanResponse(raw, cached)
	outcome := "safe"
	if !resp.Safe {
		outcome = "threat"
	}
	telemetry.GuardScansTotal.WithLabelValues(guardlog.RequestTypeScan, outcome).Inc()

	entry := guardlog.Entry{
		OrgID:       key.OrgID,
		APIKeyID:    key.APIKeyID,
		PromptHash:  cryptoutil.HashPrompt(req.Prompt),
		IsSafe:      resp.Safe,
		RiskScore:   resp.RiskScore,
		ThreatCategories: resp.ThreatCategories,
		LatencyMS:   resp.LatencyMS,
		Cached:      resp.Cached,
		IP:          ip,
		SanitizedPrompt: resp.SanitizedPrompt,
		RequestType: guardlog.RequestTypeScan,
		UserAgent:   userAgent,
		ResponseID:  resp.ResponseID,
		CreatedAt:   start,
	}
	if !resp.Safe {
		entry.PromptText = req.Prompt
	}
	s.writer.Queue(entry)

	return resp, nil
}

// Validate runs the output-validate pipeline.
func (s *Service) Validate(ctx context.Context, key *auth.APIKeyIdentity, req ValidateRequest, ip, userAgent string) (ScanResponse, error) {
	raw, err := s.gateway.ScanOutput(ctx, sidecar.ScanOutputRequest{Output: req.Output, OriginalPrompt: req.OriginalPrompt})
	if err != nil {
		telemetry.GuardScansTotal.WithLabelValues(guardlog.RequestTypeValidate, "error").Inc()
		return ScanResponse{}, err
	}

	resp := toScanResponse(raw, false)
	outcome := "safe"
	if !resp.Safe {
		outcome = "threat"
	}
	telemetry.GuardScansTotal.WithLabelValues(guardlog.RequestTypeValidate, outcome).Inc()

	entry := guardlog.Entry{
		OrgID:       key.OrgID,
		APIKeyID:    key.APIKeyID,
		PromptHash:  cryptoutil.HashPrompt(req.Output),
		IsSafe:      resp.Safe,
		RiskScore:   resp.RiskScore,
		ThreatCategories: resp.ThreatCategories,
		LatencyMS:   resp.LatencyMS,
		IP:          ip,
		RequestType: guardlog.RequestTypeValidate,
		UserAgent:   userAgent,
		ResponseID:  resp.ResponseID,
	}
	if !resp.Safe {
		entry.PromptText = req.Output
	}
	s.writer.Queue(entry)

	return resp, nil
}

// Batch runs each prompt independently with bounded concurrency. Per-item
// failures are reported in-place; they never abort the batch.
func (s *Service) Batch(ctx context.Context, key *auth.APIKeyIdentity, req BatchRequest, ip, userAgent string) (BatchResponse, error) {
	start := time.Now()
	n := len(req.Prompts)

	results := make([]BatchItemResult, n)
	sem := make(chan struct{}, batchConcurrency)
	var wg sync.WaitGroup

	for i, p := range req.Prompts {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, p BatchPrompt) {
			defer wg.Done()
			defer func() { <-sem }()

			id := p.ID
			if id == "" {
				id = strconv.Itoa(i)
			}

			simple := req.Options
			if simple == nil {
				simple = &SimpleOptions{}
			}

			raw, cached, err := s.gateway.ScanPrompt(ctx, p.Prompt, sidecar.ScanPromptRequest{
				Prompt:         p.Prompt,
				CheckInjection: simple.CheckInjection,
				CheckToxicity:  simple.CheckToxicity,
				CheckPII:       simple.CheckPII,
				Sanitize:       simple.Sanitize,
			})
			if err != nil {
				results[i] = BatchItemResult{ID: id, Error: err.Error()}
				return
			}

			resp := toScanResponse(raw, cached)
			results[i] = BatchItemResult{ID: id, Safe: resp.Safe, Scan: &resp}

			entry := guardlog.Entry{
				OrgID:       key.OrgID,
				APIKeyID:    key.APIKeyID,
				PromptHash:  cryptoutil.HashPrompt(p.Prompt),
				IsSafe:      resp.Safe,
				RiskScore:   resp.RiskScore,
				ThreatCategories: resp.ThreatCategories,
				LatencyMS:   time.Since(start).Milliseconds(),
				Cached:      resp.Cached,
				IP:          ip,
				RequestType: guardlog.RequestTypeBatch,
				UserAgent:   userAgent,
				ResponseID:  resp.ResponseID,
			}
			if !resp.Safe {
				entry.PromptText = p.Prompt
			}
			s.writer.Queue(entry)
		}(i, p)
	}
	wg.Wait()

	resp := BatchResponse{Results: results, TotalCount: n, LatencyMS: time.Since(start).Milliseconds()}
	for _, r := range results {
		switch {
		case r.Error != "":
			resp.ErrorCount++
		case r.Safe:
			resp.SafeCount++
		default:
			resp.ThreatCount++
		}
	}
	telemetry.GuardScansTotal.WithLabelValues(guardlog.RequestTypeBatch, "completed").Inc()

	return resp, nil
}

// AdvancedScan resolves policy and calls the sidecar's advanced_scan RPC.
func (s *Service) AdvancedScan(ctx context.Context, key *auth.APIKeyIdentity, req AdvancedScanRequest, scanTypeHeader, ip, userAgent string) (ScanResponse, error) {
	start := time.Now()

	bodyOpts := &sidecar.ScanOptions{
		ScanMode:       req.ScanMode,
		InputScanners:  convertScanners(req.InputScanners),
		OutputScanners: convertScanners(req.OutputScanners),
		Sanitize:       req.Sanitize,
		FailFast:       req.FailFast,
	}
	if bodyOpts.ScanMode == "" {
		bodyOpts.ScanMode = apikey.ScanModePromptOnly
	}

	opts := policy.Resolve(policy.Request{Key: key.GuardConfig, BodyOptions: bodyOpts, ScanTypeHeader: scanTypeHeader})

	raw, cached, err := s.gateway.AdvancedScan(ctx, sidecar.AdvancedScanRequest{Prompt: req.Prompt, Output: req.Output, Options: opts})

	requestType := guardlog.RequestTypeAdvancedPrompt
	switch opts.ScanMode {
	case apikey.ScanModeOutputOnly:
		requestType = guardlog.RequestTypeAdvancedOutput
	case apikey.ScanModeBoth:
		requestType = guardlog.RequestTypeAdvancedBoth
	}

	if err != nil {
		telemetry.GuardScansTotal.WithLabelValues(requestType, "error").Inc()
		return ScanResponse{}, err
	}

	resp := toScanResponse(raw, cached)
	outcome := "safe"
	if !resp.Safe {
		outcome = "threat"
	}
	telemetry.GuardScansTotal.WithLabelValues(requestType, outcome).Inc()

	hash := cryptoutil.HashPrompt(req.Prompt + req.Output)
	entry := guardlog.Entry{
		OrgID:       key.OrgID,
		APIKeyID:    key.APIKeyID,
		PromptHash:  hash,
		IsSafe:      resp.Safe,
		RiskScore:   resp.RiskScore,
		ThreatCategories: resp.ThreatCategories,
		LatencyMS:   time.Since(start).Milliseconds(),
		Cached:      resp.Cached,
		IP:          ip,
		SanitizedPrompt: resp.SanitizedPrompt,
		RequestType: requestType,
		UserAgent:   userAgent,
		ResponseID:  resp.ResponseID,
	}
	if !resp.Safe {
		entry.PromptText = req.Prompt
	}
	s.writer.Queue(entry)

	return resp, nil
}

func convertScanners(in map[string]apikey.ScannerSetting) map[string]sidecar.ScannerSetting {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]sidecar.ScannerSetting, len(in))
	for name, s := range in {
		out[name] = sidecar.ScannerSetting{Enabled: s.Enabled, Threshold: s.Threshold, Settings: s.Settings}
	}
	return out
}

// toScanResponse converts a sidecar.ScanResponse to the handler-facing
// shape. On a cache hit a fresh response id and timestamp are stamped while
// the original latency is preserved, so the audit log reflects true
// inference cost.
func toScanResponse(raw *sidecar.ScanResponse, cached bool) ScanResponse {
	threats := make([]Threat, len(raw.Threats))
	categorySeen := make(map[string]struct{})
	var categories []string
	for i, t := range raw.Threats {
		threats[i] = Threat{Category: t.Category, Severity: t.Severity, Confidence: t.Confidence, Detail: t.Detail}
		if _, ok := categorySeen[t.Category]; !ok && t.Category != "" {
			categorySeen[t.Category] = struct{}{}
			categories = append(categories, t.Category)
		}
	}

	return ScanResponse{
		Safe:             len(raw.Threats) == 0,
		Threats:          threats,
		ThreatCategories: categories,
		RiskScore:        raw.RiskScore,
		SanitizedPrompt:  raw.SanitizedPrompt,
		LatencyMS:        raw.LatencyMS,
		Cached:           cached,
		ResponseID:       uuid.New(),
		Timestamp:        time.Now(),
	}
}
