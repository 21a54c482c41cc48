package sidecar

// ScanOptions carries the resolved per-request scanner configuration sent
// to the sidecar's advanced scan RPC.
type ScanOptions struct {
	ScanMode       string                    `json:"scan_mode"`
	InputScanners  map[string]ScannerSetting `json:"input_scanners,omitempty"`
	OutputScanners map[string]ScannerSetting `json:"output_scanners,omitempty"`
	Sanitize       bool                      `json:"sanitize"`
	FailFast       bool                      `json:"fail_fast"`
}

// ScannerSetting mirrors apikey.ScannerSetting on the wire.
type ScannerSetting struct {
	Enabled   bool    `json:"enabled"`
	Threshold float64 `json:"threshold"`
	Settings  string  `json:"settings,omitempty"`
}

// ScanPromptRequest is the legacy simple-scan RPC payload.
type ScanPromptRequest struct {
	Prompt         string `json:"prompt"`
	CheckInjection bool   `json:"check_injection"`
	CheckToxicity  bool   `json:"check_toxicity"`
	CheckPII       bool   `json:"check_pii"`
	Sanitize       bool   `json:"sanitize"`
}

// ScanOutputRequest is the output-validate RPC payload.
type ScanOutputRequest struct {
	Output         string `json:"output"`
	OriginalPrompt string `json:"original_prompt,omitempty"`
}

// AdvancedScanRequest is the advanced-scan RPC payload.
type AdvancedScanRequest struct {
	Prompt  string      `json:"prompt,omitempty"`
	Output  string      `json:"output,omitempty"`
	Options ScanOptions `json:"options"`
}

// Threat is a single detected issue, shared across scan response shapes.
type Threat struct {
	Category   string  `json:"category"`
	Severity   string  `json:"severity"`
	Confidence float64 `json:"confidence"`
	Detail     string  `json:"detail,omitempty"`
}

// ScanResponse is the shared shape returned by scan/validate/advanced RPCs.
type ScanResponse struct {
	Threats         []Threat `json:"threats"`
	RiskScore       float64  `json:"risk_score"`
	SanitizedPrompt string   `json:"sanitized_prompt,omitempty"`
	LatencyMS       int64    `json:"latency_ms"`
}

// HealthResponse is the sidecar health check response.
type HealthResponse struct {
	Healthy bool   `json:"healthy"`
	Version string `json:"version,omitempty"`
}

// CustomEndpointConfig describes a user-supplied LLM endpoint for a Garak
// scan against a provider="custom" model config.
type CustomEndpointConfig struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key,omitempty"`
}

// StartGarakScanRequest starts a red-team scan run.
type StartGarakScanRequest struct {
	Provider           string                `json:"provider"`
	Model              string                `json:"model"`
	APIKey             string                `json:"api_key,omitempty"`
	BaseURL            string                `json:"base_url,omitempty"`
	ScanType           string                `json:"scan_type"`
	Probes             []string              `json:"probes,omitempty"`
	CustomEndpoint     *CustomEndpointConfig `json:"custom_endpoint,omitempty"`
	MaxPromptsPerProbe int                   `json:"max_prompts_per_probe,omitempty"`
}

// StartGarakScanResponse returns the sidecar's identifier for the run.
type StartGarakScanResponse struct {
	RemoteScanID string `json:"remote_scan_id"`
}

// GetGarakStatusRequest polls a previously started run.
type GetGarakStatusRequest struct {
	RemoteScanID string `json:"remote_scan_id"`
}

// GarakVulnerability is a single streamed vulnerability finding.
type GarakVulnerability struct {
	ProbeName       string  `json:"probe_name"`
	ProbeClass      string  `json:"probe_class"`
	Category        string  `json:"category"`
	Severity        string  `json:"severity"`
	Description     string  `json:"description"`
	AttackPrompt    string  `json:"attack_prompt"`
	ModelResponse   string  `json:"model_response"`
	Recommendation  string  `json:"recommendation,omitempty"`
	SuccessRate     float64 `json:"success_rate"`
	DetectorName    string  `json:"detector_name,omitempty"`
	ProbeDurationMS int64   `json:"probe_duration_ms"`
}

// GarakProbeLog is a single streamed per-probe execution log.
type GarakProbeLog struct {
	ProbeName       string   `json:"probe_name"`
	ProbeClass      string   `json:"probe_class"`
	Status          string   `json:"status"`
	DurationMS      int64    `json:"duration_ms"`
	PromptsSent     int      `json:"prompts_sent"`
	PromptsPassed   int      `json:"prompts_passed"`
	PromptsFailed   int      `json:"prompts_failed"`
	DetectorName    string   `json:"detector_name,omitempty"`
	DetectorScores  []byte   `json:"detector_scores,omitempty"`
	ErrorMessage    string   `json:"error_message,omitempty"`
	LogEntries      []string `json:"log_entries,omitempty"`
}

// GetGarakStatusResponse is the polled state of a Garak run.
type GetGarakStatusResponse struct {
	Status              string               `json:"status"`
	Progress            int                  `json:"progress"`
	ProbesTotal          int                  `json:"probes_total"`
	ProbesCompleted      int                  `json:"probes_completed"`
	VulnerabilitiesFound int                  `json:"vulnerabilities_found"`
	Vulnerabilities      []GarakVulnerability `json:"vulnerabilities"`
	ProbeLogs            []GarakProbeLog      `json:"probe_logs"`
	ErrorMessage         string               `json:"error_message,omitempty"`
}

// CancelGarakScanRequest signals cancellation to the sidecar.
type CancelGarakScanRequest struct {
	RemoteScanID string `json:"remote_scan_id"`
}

// CancelGarakScanResponse acknowledges a cancel request.
type CancelGarakScanResponse struct {
	Acknowledged bool `json:"acknowledged"`
}

// RetestProbeRequest re-runs a single probe a fixed number of times.
type RetestProbeRequest struct {
	ProbeClass   string                `json:"probe_class"`
	AttackPrompt string                `json:"attack_prompt"`
	NumAttempts  int                   `json:"num_attempts"`
	Provider     string                `json:"provider"`
	Model        string                `json:"model"`
	APIKey       string                `json:"api_key,omitempty"`
	BaseURL      string                `json:"base_url,omitempty"`
}

// RetestAttempt is a single retest invocation outcome.
type RetestAttempt struct {
	Status         string  `json:"status"` // "vulnerable" or "safe"
	ModelResponse  string  `json:"model_response"`
	DetectorScore  float64 `json:"detector_score"`
	DurationMS     int64   `json:"duration_ms"`
	ErrorMessage   string  `json:"error_message,omitempty"`
}

// RetestProbeResponse aggregates the outcomes of a retest run.
type RetestProbeResponse struct {
	Attempts          []RetestAttempt `json:"attempts"`
	ConfirmationRate  float64         `json:"confirmation_rate"`
}
