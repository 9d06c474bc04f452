package security

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// tokenKeyInfo separates the token-encryption key from anything else that
// might be derived from the same session secret.
const tokenKeyInfo = "service-oauth token encryption v1"

// MinSecretLength is the shortest session secret accepted for key derivation
const MinSecretLength = 16

// DeriveKey derives a 32-byte AES key from a human-managed secret using
// HKDF-SHA256. The same secret always yields the same key.
func DeriveKey(secret string) ([]byte, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("secret must be at least %d characters, got %d", MinSecretLength, len(secret))
	}

	key := make([]byte, KeySize)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(tokenKeyInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}
