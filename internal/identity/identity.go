// Package identity derives the opaque per-account tokens that key all stored
// state and double as the capability segment of a calendar feed URL.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// TokenLength is the length of a generated token in hex characters.
const TokenLength = sha256.Size * 2

// issuedAtLayout renders the issue instant with microsecond precision.
const issuedAtLayout = "2006-01-02 15:04:05.000000"

// ErrEmptySecret is returned when no access secret is supplied.
var ErrEmptySecret = errors.New("identity: access secret must not be empty")

// Generate hashes the rendered issue time followed by the access secret. The
// result is deterministic for identical inputs.
func Generate(issuedAt time.Time, accessSecret string) (string, error) {
	if accessSecret == "" {
		return "", ErrEmptySecret
	}
	sum := sha256.Sum256([]byte(issuedAt.Format(issuedAtLayout) + accessSecret))
	return hex.EncodeToString(sum[:]), nil
}

// Valid reports whether token has the shape of a generated identity token.
func Valid(token string) bool {
	if len(token) != TokenLength {
		return false
	}
	for i := 0; i < len(token); i++ {
		c := token[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
