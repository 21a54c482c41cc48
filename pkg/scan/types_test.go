package scan

import "testing"

func TestDedupKeyTruncatesPrompt(t *testing.T) {
	a := dedupKey("promptinject", "dan", "the quick brown fox jumps over the lazy dog and then keeps going for a while longer than eighty chars")
	b := dedupKey("promptinject", "dan", "the quick brown fox jumps over the lazy dog and then keeps going for a while longer THAN SOMETHING ELSE")
	if a != b {
		t.Error("expected keys sharing an 80-char prefix to dedup as equal")
	}
}

func TestDedupKeyDistinguishesProbe(t *testing.T) {
	a := dedupKey("promptinject", "dan", "same prompt")
	b := dedupKey("other_probe", "dan", "same prompt")
	if a == b {
		t.Error("expected different probe names to produce different keys")
	}
}

func TestLogKey(t *testing.T) {
	a := logKey("promptinject", "dan")
	b := logKey("promptinject", "jailbreak")
	if a == b {
		t.Error("expected different probe classes to produce different keys")
	}
}

func TestSeverityWeight(t *testing.T) {
	cases := []struct {
		severity string
		want     float64
	}{
		{SeverityCritical, 1.0},
		{SeverityHigh, 0.75},
		{SeverityMedium, 0.5},
		{SeverityLow, 0.25},
		{"unknown", 0.1},
	}
	for _, c := range cases {
		if got := severityWeight(c.severity); got != c.want {
			t.Errorf("severityWeight(%q) = %v, want %v", c.severity, got, c.want)
		}
	}
}

func TestOverallRiskScoreEmpty(t *testing.T) {
	if got := overallRiskScore(nil); got != 0 {
		t.Errorf("expected 0 for no vulnerabilities, got %v", got)
	}
}
