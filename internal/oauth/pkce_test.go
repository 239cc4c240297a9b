package oauth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateToken_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token, err := GenerateToken()
		require.NoError(t, err)
		assert.Len(t, token, 43, "32 bytes should encode to 43 base64url chars")
		assert.False(t, seen[token], "tokens must be unique")
		seen[token] = true
	}
}

func TestVerifyS256(t *testing.T) {
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	challenge := ChallengeS256(verifier)

	assert.True(t, VerifyS256(challenge, verifier))
	assert.False(t, VerifyS256(challenge, verifier+"x"))
	assert.False(t, VerifyS256(challenge, ""))
	assert.False(t, VerifyS256("", verifier))
	assert.False(t, VerifyS256(verifier, verifier), "challenge must be the hash, not the verifier")
}

func TestChallengeS256_KnownVector(t *testing.T) {
	// RFC 7636 appendix B test vector.
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	assert.Equal(t, "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM", ChallengeS256(verifier))
}
