package guardlog

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestEntryToEvent(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := Entry{
		ID:               uuid.New(),
		OrgID:            uuid.New(),
		IsSafe:           false,
		RiskScore:        0.9,
		ThreatCategories: []string{"injection"},
		LatencyMS:        120,
		RequestType:      RequestTypeScan,
		CreatedAt:        now,
	}

	ev := e.toEvent()
	if ev.ID != e.ID || ev.OrgID != e.OrgID {
		t.Error("expected identifiers carried through unchanged")
	}
	if ev.IsSafe {
		t.Error("expected IsSafe carried through unchanged")
	}
	if ev.Timestamp != now.Format(time.RFC3339) {
		t.Errorf("expected RFC3339 timestamp, got %q", ev.Timestamp)
	}
	if ev.RequestType != RequestTypeScan {
		t.Errorf("expected request type carried through, got %q", ev.RequestType)
	}
}
