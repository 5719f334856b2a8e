// Package sha256 provides the digests used for content addressing.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
)

// Hash returns the hex SHA-256 digest of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashString returns the hex SHA-256 digest of s.
func HashString(s string) string {
	return Hash([]byte(s))
}

// TeeHasher digests bytes as they stream through to a destination writer, so
// large payloads can be content-addressed without buffering.
type TeeHasher struct {
	dst io.Writer
	h   hash.Hash
	n   int64
}

// NewTee wraps dst; everything written is forwarded and digested.
func NewTee(dst io.Writer) *TeeHasher {
	return &TeeHasher{dst: dst, h: sha256.New()}
}

// Write forwards p to the destination and the digest.
func (t *TeeHasher) Write(p []byte) (int, error) {
	n, err := t.dst.Write(p)
	if n > 0 {
		t.h.Write(p[:n])
		t.n += int64(n)
	}
	if err != nil {
		return n, fmt.Errorf("tee write: %w", err)
	}
	return n, nil
}

// Sum returns the hex digest of everything written so far.
func (t *TeeHasher) Sum() string {
	return hex.EncodeToString(t.h.Sum(nil))
}

// Written returns the number of bytes forwarded.
func (t *TeeHasher) Written() int64 {
	return t.n
}
