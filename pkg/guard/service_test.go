package guard

import (
	"testing"

	"github.com/wisbric/vigil/pkg/sidecar"
)

func TestToScanResponseSafe(t *testing.T) {
	raw := &sidecar.ScanResponse{RiskScore: 0.1, LatencyMS: 42}
	resp := toScanResponse(raw, false)

	if !resp.Safe {
		t.Error("expected safe response with no threats")
	}
	if len(resp.ThreatCategories) != 0 {
		t.Errorf("expected no threat categories, got %v", resp.ThreatCategories)
	}
	if resp.LatencyMS != 42 {
		t.Errorf("expected latency preserved, got %d", resp.LatencyMS)
	}
}

func TestToScanResponseDedupesCategories(t *testing.T) {
	raw := &sidecar.ScanResponse{
		Threats: []sidecar.Threat{
			{Category: "injection", Severity: "high"},
			{Category: "injection", Severity: "medium"},
			{Category: "toxicity", Severity: "low"},
		},
	}

	resp := toScanResponse(raw, true)
	if resp.Safe {
		t.Error("expected unsafe response when threats are present")
	}
	if !resp.Cached {
		t.Error("expected cached flag to be carried through")
	}
	if len(resp.ThreatCategories) != 2 {
		t.Fatalf("expected 2 distinct categories, got %v", resp.ThreatCategories)
	}
	if resp.ThreatCategories[0] != "injection" || resp.ThreatCategories[1] != "toxicity" {
		t.Errorf("expected categories in first-seen order, got %v", resp.ThreatCategories)
	}
}

func TestConvertScannersEmpty(t *testing.T) {
	if got := convertScanners(nil); got != nil {
		t.Errorf("expected nil for empty input, got %v", got)
	}
}
