// Package scan implements the Garak red-team scan orchestrator: the
// lifecycle state machine, incremental polling with dedup, cancellation,
// and retest, plus the handlers that expose it over HTTP and SSE.
package scan

import (
	"time"

	"github.com/google/uuid"
)

// Scan type literals (§3).
const (
	TypeQuick         = "quick"
	TypeStandard      = "standard"
	TypeComprehensive = "comprehensive"
	TypeCustom        = "custom"
)

// Status values. StatusQueued and StatusRunning count toward the
// concurrency gate; the rest are terminal.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Severity literals for ScanResult.Severity.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// MaxConcurrentScans is the default process-wide cap on scans in
// {queued, running}, derived from the database rather than an in-memory
// counter to avoid the underflow a cancel/completion race would cause.
const MaxConcurrentScans = 4

// MaxConsecutiveFailures bounds how many consecutive client/RPC failures a
// driver tolerates before giving up and marking the scan failed.
const MaxConsecutiveFailures = 10

// PollInterval is the fixed interval between sidecar status polls.
const PollInterval = 5 * time.Second

// MaxDriverLifetime is a belt-and-braces backstop bounding a driver's total
// run time. There is no per-scan-type timeout — comprehensive scans
// legitimately run for tens of minutes — this only guards against a sidecar
// that never reports a terminal status at all.
const MaxDriverLifetime = 8 * time.Hour

// Scan is a Garak run row.
type Scan struct {
	ID                   uuid.UUID
	OrgID                uuid.UUID
	CreatedBy            uuid.UUID
	ScanType             string
	Status               string
	Progress             int
	ProbesTotal          int
	ProbesCompleted      int
	VulnerabilitiesFound int
	RiskScore            float64
	ErrorMessage         string
	Provider             string
	Model                string
	BaseURL              string
	RemoteScanID         string
	CreatedAt            time.Time
	StartedAt            *time.Time
	CompletedAt          *time.Time
}

// Result is a single vulnerability finding persisted for a scan.
type Result struct {
	ID              uuid.UUID
	ScanID          uuid.UUID
	ProbeName       string
	ProbeClass      string
	Category        string
	Severity        string
	Description     string
	AttackPrompt    string
	ModelResponse   string
	Recommendation  string
	SuccessRate     float64
	DetectorName    string
	ProbeDurationMS int64
	Confirmed       *bool
	RetestCount     int
	RetestConfirmed int
	CreatedAt       time.Time
}

// dedupKey is the (probe_name, probe_class, first-80-chars(attack_prompt))
// identity used to dedup incremental vulnerability ingest.
func dedupKey(probeName, probeClass, attackPrompt string) string {
	prefix := attackPrompt
	if len(prefix) > 80 {
		prefix = prefix[:80]
	}
	return probeName + "\x00" + probeClass + "\x00" + prefix
}

// Log is a single per-probe execution log. Only non-running logs are
// persisted.
type Log struct {
	ID             uuid.UUID
	ScanID         uuid.UUID
	ProbeName      string
	ProbeClass     string
	Status         string
	StartedAt      *time.Time
	CompletedAt    *time.Time
	DurationMS     int64
	PromptsSent    int
	PromptsPassed  int
	PromptsFailed  int
	DetectorName   string
	DetectorScores []byte
	ErrorMessage   string
	LogEntries     []string
	CreatedAt      time.Time
}

// logKey is the (probe_name, probe_class) identity used to dedup probe-log
// ingest.
func logKey(probeName, probeClass string) string {
	return probeName + "\x00" + probeClass
}

// Retest is a single retest attempt recorded against an existing result.
type Retest struct {
	ID              uuid.UUID
	ResultID        uuid.UUID
	ScanID          uuid.UUID
	AttemptNumber   int
	Status          string // "vulnerable" or "safe"
	ModelResponse   string
	DetectorScore   float64
	DurationMS      int64
	ErrorMessage    string
	CompletedAt     time.Time
}

// severityWeight assigns the contribution of a single vulnerability's
// severity toward the scan's overall risk_score (§4.7).
func severityWeight(severity string) float64 {
	switch severity {
	case SeverityCritical:
		return 1.0
	case SeverityHigh:
		return 0.75
	case SeverityMedium:
		return 0.5
	case SeverityLow:
		return 0.25
	default:
		return 0.1
	}
}
