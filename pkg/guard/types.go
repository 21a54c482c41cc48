// Package guard implements the request-scoped scan pipeline: admission →
// cache lookup → ML gateway → response assembly → audit enqueue.
package guard

import (
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/vigil/pkg/apikey"
)

const (
	maxPromptBytes         = 32 * 1024
	maxOutputBytes         = 64 * 1024
	maxAdvancedFieldBytes  = 64 * 1024
	minBatchSize           = 1
	maxBatchSize           = 50
	batchConcurrency       = 8
)

// ScanRequest is the body of POST /v1/guard/scan.
type ScanRequest struct {
	Prompt  string          `json:"prompt" validate:"required"`
	Options *SimpleOptions  `json:"options,omitempty"`
}

// SimpleOptions is the legacy boolean-flag scan configuration.
type SimpleOptions struct {
	CheckInjection bool `json:"check_injection"`
	CheckToxicity  bool `json:"check_toxicity"`
	CheckPII       bool `json:"check_pii"`
	Sanitize       bool `json:"sanitize"`
}

// Threat is a single detected issue in a scan response.
type Threat struct {
	Category   string  `json:"category"`
	Severity   string  `json:"severity"`
	Confidence float64 `json:"confidence"`
	Detail     string  `json:"detail,omitempty"`
}

// ScanResponse is returned by the single-scan, validate, and advanced-scan
// endpoints.
type ScanResponse struct {
	Safe             bool      `json:"safe"`
	Threats          []Threat  `json:"threats"`
	ThreatCategories []string  `json:"threat_categories,omitempty"`
	RiskScore        float64   `json:"risk_score"`
	SanitizedPrompt  string    `json:"sanitized_prompt,omitempty"`
	LatencyMS        int64     `json:"latency_ms"`
	Cached           bool      `json:"cached"`
	ResponseID       uuid.UUID `json:"response_id"`
	Timestamp        time.Time `json:"timestamp"`
}

// ValidateRequest is the body of POST /v1/guard/validate.
type ValidateRequest struct {
	Output         string `json:"output" validate:"required"`
	OriginalPrompt string `json:"original_prompt,omitempty"`
}

// BatchRequest is the body of POST /v1/guard/batch.
type BatchRequest struct {
	Prompts []BatchPrompt  `json:"prompts" validate:"required"`
	Options *SimpleOptions `json:"options,omitempty"`
}

// BatchPrompt is a single item in a batch scan request.
type BatchPrompt struct {
	ID     string `json:"id,omitempty"`
	Prompt string `json:"prompt"`
}

// BatchItemResult is a single item's outcome in a batch response.
type BatchItemResult struct {
	ID    string        `json:"id"`
	Safe  bool          `json:"safe,omitempty"`
	Scan  *ScanResponse `json:"scan,omitempty"`
	Error string        `json:"error,omitempty"`
}

// BatchResponse aggregates counts and per-item results for a batch scan.
type BatchResponse struct {
	Results    []BatchItemResult `json:"results"`
	TotalCount int               `json:"total_count"`
	SafeCount  int               `json:"safe_count"`
	ThreatCount int              `json:"threat_count"`
	ErrorCount int               `json:"error_count"`
	LatencyMS  int64             `json:"latency_ms"`
}

// AdvancedScanRequest is the body of POST /v1/guard/advanced-scan.
type AdvancedScanRequest struct {
	Prompt         string                           `json:"prompt,omitempty"`
	Output         string                           `json:"output,omitempty"`
	ScanMode       string                           `json:"scan_mode,omitempty"`
	InputScanners  map[string]apikey.ScannerSetting  `json:"input_scanners,omitempty"`
	OutputScanners map[string]apikey.ScannerSetting  `json:"output_scanners,omitempty"`
	Sanitize       bool                             `json:"sanitize,omitempty"`
	FailFast       bool                             `json:"fail_fast,omitempty"`
}
