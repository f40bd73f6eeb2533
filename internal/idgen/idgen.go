// Package idgen provides cryptographically random ID generation.
package idgen

import (
	"crypto/rand"
	"math/big"

	"github.com/google/uuid"
)

const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// New returns a random RFC 4122 v4 UUID string.
func New() string {
	return uuid.NewString()
}

// WithPrefix returns prefix followed by n random base36 characters.
func WithPrefix(prefix string, n int) string {
	return prefix + Base36(n)
}

// Base36 returns n random characters drawn uniformly from [0-9a-z].
func Base36(n int) string {
	if n <= 0 {
		return ""
	}
	max := big.NewInt(int64(len(base36Alphabet)))
	out := make([]byte, n)
	for i := range out {
		v, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("crypto/rand failed: " + err.Error())
		}
		out[i] = base36Alphabet[v.Int64()]
	}
	return string(out)
}
