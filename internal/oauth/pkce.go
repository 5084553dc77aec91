package oauth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/oauth2"
)

// ChallengeMethodS256 is the only PKCE method we issue.
const ChallengeMethodS256 = "S256"

// stateBytes is the entropy of a CSRF state token.
const stateBytes = 32

// NewState returns a URL-safe random state token with 256 bits of entropy.
func NewState() (string, error) {
	b := make([]byte, stateBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// NewVerifier returns a 43 character PKCE code verifier (32 random bytes).
func NewVerifier() string {
	return oauth2.GenerateVerifier()
}

// Challenge computes the S256 code challenge of verifier.
func Challenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}
