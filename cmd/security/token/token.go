package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// MinKeyBytes is the shortest admin key accepted at startup.
const MinKeyBytes = 16

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// ValidateKey trims raw and enforces a minimum byte length.
// Blank -> ErrKeyMissing. Too short -> ErrKeyTooShort.
func ValidateKey(raw string, minBytes int) (string, error) {
	key := strings.TrimSpace(raw)
	if key == "" {
		return "", ErrKeyMissing
	}
	if minBytes > 0 && len(key) < minBytes {
		return "", ErrKeyTooShort
	}
	return key, nil
}

// Equal reports whether given matches want in constant time.
// An empty want never matches.
func Equal(given, want string) bool {
	if want == "" {
		return false
	}
	g := sha256.Sum256([]byte(given))
	w := sha256.Sum256([]byte(want))
	return hmac.Equal(g[:], w[:])
}

// Fingerprint returns a short, non-reversible identifier for a key, safe to log.
func Fingerprint(key string) string {
	return HashSHA256Hex(key)[:12]
}
