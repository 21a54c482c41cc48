package apikey

import "testing"

func TestGuardConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     GuardConfig
		wantErr bool
	}{
		{"empty config", GuardConfig{}, false},
		{"valid scan mode", GuardConfig{ScanMode: ScanModeBoth}, false},
		{"invalid scan mode", GuardConfig{ScanMode: "bogus"}, true},
		{
			"threshold at lower bound",
			GuardConfig{InputScanners: map[string]ScannerSetting{"toxicity": {Enabled: true, Threshold: 0.0}}},
			false,
		},
		{
			"threshold at upper bound",
			GuardConfig{OutputScanners: map[string]ScannerSetting{"toxicity": {Enabled: true, Threshold: 1.0}}},
			false,
		},
		{
			"threshold out of range",
			GuardConfig{InputScanners: map[string]ScannerSetting{"toxicity": {Enabled: true, Threshold: 1.5}}},
			true,
		},
		{
			"negative threshold",
			GuardConfig{InputScanners: map[string]ScannerSetting{"toxicity": {Enabled: true, Threshold: -0.1}}},
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEffectiveRateLimitRPM(t *testing.T) {
	k := ApiKey{RateLimitRPM: 0}
	if got := k.EffectiveRateLimitRPM(); got != DefaultRateLimitRPM {
		t.Errorf("EffectiveRateLimitRPM() = %d, want %d", got, DefaultRateLimitRPM)
	}

	k.RateLimitRPM = 5000
	if got := k.EffectiveRateLimitRPM(); got != 5000 {
		t.Errorf("EffectiveRateLimitRPM() = %d, want 5000", got)
	}
}

func TestApiKeyActive(t *testing.T) {
	k := ApiKey{}
	if !k.Active() {
		t.Error("a key with no revoked_at/expires_at should be active")
	}
}
