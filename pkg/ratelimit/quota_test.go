package ratelimit

import "testing"

func TestResolveQuota(t *testing.T) {
	override := 50_000
	basicOverride := MonthlyQuotaBasic

	tests := []struct {
		name     string
		keyQuota *int
		keyPlan  string
		userPlan string
		orgPlan  string
		want     int
	}{
		{"explicit override wins", &override, "basic", "pro", "pro", 50_000},
		{"override equal to basic default is ignored", &basicOverride, "pro", "", "", quotaForPlan("pro")},
		{"key plan wins over user/org", nil, "enterprise", "pro", "pro", quotaForPlan("enterprise")},
		{"user plan wins over org", nil, "basic", "pro", "enterprise", quotaForPlan("pro")},
		{"org plan is last resort", nil, "basic", "", "enterprise", quotaForPlan("enterprise")},
		{"falls back to basic default", nil, "", "", "", MonthlyQuotaBasic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveQuota(tt.keyQuota, tt.keyPlan, tt.userPlan, tt.orgPlan)
			if got != tt.want {
				t.Errorf("ResolveQuota() = %d, want %d", got, tt.want)
			}
		})
	}
}
