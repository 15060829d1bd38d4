// Package sha256 provides the content digests used for deduplication and
// prompt provenance.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher computes hex-encoded SHA-256 digests.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	return Sum(data), nil
}

// Sum returns the hex digest of data.
func Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SumText returns the hex digest of the UTF-8 bytes of s.
func SumText(s string) string {
	return Sum([]byte(s))
}

// Short returns the first n hex characters of the digest of s.
func Short(s string, n int) string {
	d := SumText(s)
	if n <= 0 || n >= len(d) {
		return d
	}
	return d[:n]
}
