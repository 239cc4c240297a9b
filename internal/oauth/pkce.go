package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// tokenBytes is the number of random bytes in generated credentials
// (authorization codes, access tokens, refresh tokens). 32 bytes provides
// 256 bits of entropy and encodes to 43 base64url characters.
const tokenBytes = 32

// GenerateToken returns a cryptographically random, URL-safe opaque token.
func GenerateToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// ChallengeS256 computes the S256 PKCE transform of a code verifier:
// the SHA-256 digest, base64url-encoded without padding.
func ChallengeS256(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

// VerifyS256 reports whether the verifier hashes to the stored challenge.
// The challenge is not a secret, so plain string equality suffices; only the
// verifier must stay confidential.
func VerifyS256(challenge, verifier string) bool {
	if challenge == "" || verifier == "" {
		return false
	}
	return ChallengeS256(verifier) == challenge
}
