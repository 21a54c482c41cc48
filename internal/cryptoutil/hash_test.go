package cryptoutil

import "testing"

func TestHashAPIKeyDeterministic(t *testing.T) {
	a := HashAPIKey("ora_abcdef0123456789abcdef0123456789")
	b := HashAPIKey("ora_abcdef0123456789abcdef0123456789")
	if a != b {
		t.Fatalf("HashAPIKey not deterministic: %s != %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
}

func TestHashPromptDiffers(t *testing.T) {
	a := HashPrompt("hello")
	b := HashPrompt("world")
	if a == b {
		t.Error("different prompts hashed to the same digest")
	}
}

func TestGenerateAPIKey(t *testing.T) {
	k, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey() error = %v", err)
	}
	if len(k.Secret) != len("ora_")+32 {
		t.Errorf("secret length = %d, want %d", len(k.Secret), len("ora_")+32)
	}
	if k.Prefix != k.Secret[:12] {
		t.Errorf("prefix = %q, want first 12 chars of secret", k.Prefix)
	}

	k2, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey() error = %v", err)
	}
	if k.Secret == k2.Secret {
		t.Error("two generated keys collided")
	}
}
