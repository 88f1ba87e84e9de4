package token

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// hashToken derives the validation-cache key from a token without
// storing the raw bearer value in the cache backend.
func hashToken(tokenString string) string {
	sum := sha256.Sum256([]byte(tokenString))
	return hex.EncodeToString(sum[:])
}

type cachedClaims struct {
	SubjectID string    `json:"sub"`
	Roles     []string  `json:"roles"`
	ExpiresAt time.Time `json:"exp"`
}

func encodeCachedClaims(c Claims) []byte {
	b, _ := json.Marshal(cachedClaims{SubjectID: c.SubjectID, Roles: c.Roles, ExpiresAt: c.ExpiresAt})
	return b
}

func decodeCachedClaims(raw []byte) (Claims, error) {
	var c cachedClaims
	if err := json.Unmarshal(raw, &c); err != nil {
		return Claims{}, err
	}
	return Claims{SubjectID: c.SubjectID, Roles: c.Roles, ExpiresAt: c.ExpiresAt}, nil
}
