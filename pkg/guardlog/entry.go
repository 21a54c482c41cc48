// Package guardlog implements the scan audit trail: the async write buffer
// that absorbs guard traffic, the listing/stats read paths, and the
// pub/sub fan-out consumed by the event fabric.
package guardlog

import (
	"time"

	"github.com/google/uuid"
)

// RequestType enumerates the kinds of guard request an Entry records.
const (
	RequestTypeScan            = "scan"
	RequestTypeValidate        = "validate"
	RequestTypeBatch           = "batch"
	RequestTypeAdvancedPrompt  = "advanced_prompt"
	RequestTypeAdvancedOutput  = "advanced_output"
	RequestTypeAdvancedBoth    = "advanced_both"
)

// Entry is a single scan audit record. Safe prompts never carry full text —
// only PromptHash is retained; PromptText is populated only when IsSafe is
// false.
type Entry struct {
	ID               uuid.UUID
	OrgID            uuid.UUID
	APIKeyID         uuid.UUID
	PromptHash       string
	IsSafe           bool
	RiskScore        float64
	ThreatsDetected  []byte // opaque structured JSON, passed through verbatim
	ThreatCategories []string
	LatencyMS        int64
	Cached           bool
	IP               string
	PromptText       string
	SanitizedPrompt  string
	RequestType      string
	ScanOptions      []byte
	UserAgent        string
	ResponseID       uuid.UUID
	CreatedAt        time.Time
}

// Event is the compact payload published to guard_log_events on a
// successful flush.
type Event struct {
	ID               uuid.UUID `json:"id"`
	OrgID            uuid.UUID `json:"organization_id"`
	IsSafe           bool      `json:"is_safe"`
	RiskScore        float64   `json:"risk_score"`
	Threats          []byte    `json:"threats_detected,omitempty"`
	ThreatCategories []string  `json:"threat_categories,omitempty"`
	LatencyMS        int64     `json:"latency_ms"`
	Cached           bool      `json:"cached"`
	IP               string    `json:"ip,omitempty"`
	RequestType      string    `json:"request_type"`
	Timestamp        string    `json:"timestamp"`
}

func (e Entry) toEvent() Event {
	return Event{
		ID:               e.ID,
		OrgID:            e.OrgID,
		IsSafe:           e.IsSafe,
		RiskScore:        e.RiskScore,
		Threats:          e.ThreatsDetected,
		ThreatCategories: e.ThreatCategories,
		LatencyMS:        e.LatencyMS,
		Cached:           e.Cached,
		IP:               e.IP,
		RequestType:      e.RequestType,
		Timestamp:        e.CreatedAt.UTC().Format(time.RFC3339),
	}
}
