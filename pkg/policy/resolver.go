// Package policy resolves the effective scan configuration for a guard
// request, merging the admitted API key's stored GuardConfig with
// per-request body overrides and header hints.
package policy

import (
	"github.com/wisbric/vigil/pkg/apikey"
	"github.com/wisbric/vigil/pkg/sidecar"
)

// Request carries the inputs needed to resolve an effective scan policy.
type Request struct {
	Key           *apikey.GuardConfig // the admitted key's stored policy, if any
	BodyOptions   *sidecar.ScanOptions // literal values from the request body
	ScanTypeHeader string              // X-Scan-Type: prompt|output|both
}

// Resolve implements the precedence rules: a non-empty body scanner map wins
// outright; otherwise the key's stored config drives, narrowed by the
// X-Scan-Type header when the key's mode is "both"; otherwise the body's
// literal defaults apply unchanged.
func Resolve(req Request) sidecar.ScanOptions {
	if req.BodyOptions != nil && (len(req.BodyOptions.InputScanners) > 0 || len(req.BodyOptions.OutputScanners) > 0) {
		return *req.BodyOptions
	}

	if req.Key != nil {
		mode := req.Key.ScanMode
		if mode == apikey.ScanModeBoth && req.ScanTypeHeader != "" {
			switch req.ScanTypeHeader {
			case "prompt":
				mode = apikey.ScanModePromptOnly
			case "output":
				mode = apikey.ScanModeOutputOnly
			case "both":
				mode = apikey.ScanModeBoth
			}
		}

		return sidecar.ScanOptions{
			ScanMode:       mode,
			InputScanners:  convertScanners(req.Key.InputScanners),
			OutputScanners: convertScanners(req.Key.OutputScanners),
			Sanitize:       req.Key.Sanitize,
			FailFast:       req.Key.FailFast,
		}
	}

	if req.BodyOptions != nil {
		return *req.BodyOptions
	}

	return sidecar.ScanOptions{ScanMode: apikey.ScanModePromptOnly}
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
