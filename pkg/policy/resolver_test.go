package policy

import (
	"testing"

	"github.com/wisbric/vigil/pkg/apikey"
	"github.com/wisbric/vigil/pkg/sidecar"
)

func TestResolveBodyOverrideWins(t *testing.T) {
	body := sidecar.ScanOptions{
		ScanMode:      apikey.ScanModeBoth,
		InputScanners: map[string]sidecar.ScannerSetting{"toxicity": {Enabled: true, Threshold: 0.5}},
	}
	key := &apikey.GuardConfig{ScanMode: apikey.ScanModePromptOnly}

	got := Resolve(Request{Key: key, BodyOptions: &body})
	if got.ScanMode != apikey.ScanModeBoth {
		t.Errorf("expected body scan_mode to win, got %q", got.ScanMode)
	}
}

func TestResolveKeyConfigNarrowedByHeader(t *testing.T) {
	key := &apikey.GuardConfig{
		ScanMode:      apikey.ScanModeBoth,
		InputScanners: map[string]apikey.ScannerSetting{"pii": {Enabled: true, Threshold: 0.8}},
	}

	got := Resolve(Request{Key: key, ScanTypeHeader: "prompt"})
	if got.ScanMode != apikey.ScanModePromptOnly {
		t.Errorf("expected header to narrow mode to prompt_only, got %q", got.ScanMode)
	}
}

func TestResolveUnrecognizedHeaderKeepsKeyMode(t *testing.T) {
	key := &apikey.GuardConfig{ScanMode: apikey.ScanModeBoth}

	got := Resolve(Request{Key: key, ScanTypeHeader: "bogus"})
	if got.ScanMode != apikey.ScanModeBoth {
		t.Errorf("expected unrecognized header to keep key mode, got %q", got.ScanMode)
	}
}

func TestResolveNoKeyNoBodyDefaultsPromptOnly(t *testing.T) {
	got := Resolve(Request{})
	if got.ScanMode != apikey.ScanModePromptOnly {
		t.Errorf("expected default prompt_only, got %q", got.ScanMode)
	}
}
