// Package cryptoutil implements the hash, key-generation, and authenticated
// encryption primitives used across admission control and model config
// storage.
package cryptoutil

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// HashAPIKey returns the lowercase hex SHA-256 digest of an API key secret.
func HashAPIKey(plaintext string) string {
	return hashHex(plaintext)
}

// HashPrompt returns the lowercase hex SHA-256 digest of prompt or output
// text, used as the cache key and the audit dedup identity.
func HashPrompt(text string) string {
	return hashHex(text)
}

func hashHex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// GeneratedAPIKey is the plaintext secret and its matching lookup prefix,
// returned once at creation time; only the hash is ever persisted.
type GeneratedAPIKey struct {
	Secret string
	Prefix string
}

// GenerateAPIKey returns a fresh API key secret of the form "ora_<32 hex
// chars>" plus its 12-character prefix.
func GenerateAPIKey() (GeneratedAPIKey, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return GeneratedAPIKey{}, fmt.Errorf("generating api key: %w", err)
	}
	secret := "ora_" + hex.EncodeToString(buf)
	return GeneratedAPIKey{
		Secret: secret,
		Prefix: secret[:12],
	}, nil
}
