package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
	"strings"
)

// DigestPrefix tags every digest string with its algorithm.
const DigestPrefix = "sha256:"

// Digest returns the digest string of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return DigestPrefix + hex.EncodeToString(sum[:])
}

// DigestReader consumes r and returns its digest and length.
func DigestReader(r io.Reader) (string, int64, error) {
	d := NewDigester()
	n, err := io.Copy(d, r)
	if err != nil {
		return "", n, err
	}
	return d.Sum(), n, nil
}

// Digester computes a digest incrementally. It implements io.Writer.
type Digester struct {
	h hash.Hash
	n int64
}

// NewDigester returns an empty Digester.
func NewDigester() *Digester {
	return &Digester{h: sha256.New()}
}

func (d *Digester) Write(p []byte) (int, error) {
	d.n += int64(len(p))
	return d.h.Write(p)
}

// Len returns the number of bytes written so far.
func (d *Digester) Len() int64 { return d.n }

// Sum returns the digest string of everything written so far.
func (d *Digester) Sum() string {
	return DigestPrefix + hex.EncodeToString(d.h.Sum(nil))
}

// Valid reports whether s looks like a digest produced by this package.
func Valid(s string) bool {
	hexPart, ok := strings.CutPrefix(s, DigestPrefix)
	if !ok || len(hexPart) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(hexPart)
	return err == nil
}
