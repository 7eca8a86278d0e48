package lease

import (
	"crypto/rand"
	"math/big"
)

// CodeAlphabet omits characters that are easy to confuse when read aloud or typed (0/O, 1/I).
const CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// DefaultCodeLength is the length of generated codes.
const DefaultCodeLength = 8

// NewCode returns a random code of n characters drawn from CodeAlphabet.
// If n <= 0, DefaultCodeLength is used.
func NewCode(n int) (string, error) {
	if n <= 0 {
		n = DefaultCodeLength
	}
	max := big.NewInt(int64(len(CodeAlphabet)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = CodeAlphabet[idx.Int64()]
	}
	return string(b), nil
}
