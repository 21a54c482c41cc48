package cryptoutil

import (
	"strings"
	"testing"
)

func TestAEADRoundTrip(t *testing.T) {
	a, err := NewAEAD("test-secret")
	if err != nil {
		t.Fatalf("NewAEAD() error = %v", err)
	}

	plaintexts := []string{"", "hello world", "sk-abcdef0123456789", "unicode: héllo 日本語"}
	for _, pt := range plaintexts {
		ct, err := a.Encrypt(pt)
		if err != nil {
			t.Fatalf("Encrypt(%q) error = %v", pt, err)
		}
		got, err := a.Decrypt(ct)
		if err != nil {
			t.Fatalf("Decrypt() error = %v", err)
		}
		if got != pt {
			t.Errorf("round trip = %q, want %q", got, pt)
		}
	}
}

func TestAEADTamperedCiphertextFails(t *testing.T) {
	a, err := NewAEAD("test-secret")
	if err != nil {
		t.Fatalf("NewAEAD() error = %v", err)
	}

	ct, err := a.Encrypt("sensitive value")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	tampered := []byte(ct)
	// Flip a bit in the encoded payload without corrupting the base64 alphabet boundary.
	for i := len(tampered) - 1; i >= 0; i-- {
		if tampered[i] != '=' {
			if tampered[i] == 'A' {
				tampered[i] = 'B'
			} else {
				tampered[i] = 'A'
			}
			break
		}
	}

	if _, err := a.Decrypt(string(tampered)); err == nil {
		t.Error("Decrypt() of tampered ciphertext should fail")
	}
}

func TestAEADDifferentSecretsFail(t *testing.T) {
	a, _ := NewAEAD("secret-one")
	b, _ := NewAEAD("secret-two")

	ct, err := a.Encrypt("payload")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if _, err := b.Decrypt(ct); err == nil {
		t.Error("Decrypt() with a different key should fail")
	}
}

func TestEncryptErrorMessage(t *testing.T) {
	a, _ := NewAEAD("secret")
	_, err := a.Decrypt("not-valid-base64!!!")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "encoding") {
		t.Errorf("expected encoding error kind, got %q", err.Error())
	}
}
