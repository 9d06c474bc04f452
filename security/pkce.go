package security

import (
	"crypto/subtle"
	"fmt"
	"regexp"

	"golang.org/x/oauth2"
)

const (
	// MinVerifierLength and MaxVerifierLength bound a PKCE code verifier (RFC 7636 §4.1)
	MinVerifierLength = 43
	MaxVerifierLength = 128

	// MinStateLength is the minimum accepted length of a state parameter.
	// Generated states are 43 characters (256 bits); anything shorter than
	// 22 characters cannot carry 128 bits of entropy.
	MinStateLength = 22
)

// verifierPattern is the RFC 7636 unreserved character set
var verifierPattern = regexp.MustCompile(`^[A-Za-z0-9._~-]+$`)

// GeneratePKCE returns a fresh code verifier and its S256 challenge.
// The verifier is 32 random bytes from crypto/rand, base64url encoded
// without padding (43 characters).
func GeneratePKCE() (verifier, challenge string) {
	verifier = oauth2.GenerateVerifier()
	return verifier, oauth2.S256ChallengeFromVerifier(verifier)
}

// VerifyPKCE checks that challenge is the S256 challenge of verifier.
// The comparison is constant-time.
func VerifyPKCE(verifier, challenge string) error {
	if err := ValidateVerifier(verifier); err != nil {
		return err
	}
	computed := oauth2.S256ChallengeFromVerifier(verifier)
	if subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) != 1 {
		return fmt.Errorf("code challenge does not match verifier")
	}
	return nil
}

// ValidateVerifier checks the length and character set of a code verifier
func ValidateVerifier(verifier string) error {
	if len(verifier) < MinVerifierLength || len(verifier) > MaxVerifierLength {
		return fmt.Errorf("code verifier must be %d-%d characters, got %d",
			MinVerifierLength, MaxVerifierLength, len(verifier))
	}
	if !verifierPattern.MatchString(verifier) {
		return fmt.Errorf("code verifier contains invalid characters")
	}
	return nil
}

// GenerateState returns an unguessable state token with 256 bits of entropy.
func GenerateState() string {
	return oauth2.GenerateVerifier()
}
