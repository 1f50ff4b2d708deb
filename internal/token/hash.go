package token

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash fingerprints a refresh token for storage in the session registry.
// The registry never sees the raw token.
func Hash(tokenString string) string {
	sum := sha256.Sum256([]byte(tokenString))
	return hex.EncodeToString(sum[:])
}
