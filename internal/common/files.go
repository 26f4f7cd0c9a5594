package common

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
	"os"
)

// Hasher computes a SHA-256 digest while bytes are written elsewhere, e.g.
// alongside an output .vrt file.
type Hasher struct {
	h hash.Hash
	n int64
}

func NewHasher() *Hasher {
	return &Hasher{h: sha256.New()}
}

func (h *Hasher) Write(p []byte) (int, error) {
	h.n += int64(len(p))
	return h.h.Write(p)
}

func (h *Hasher) Sum() string {
	return hex.EncodeToString(h.h.Sum(nil))
}

// Size returns the number of bytes hashed.
func (h *Hasher) Size() int64 { return h.n }

// Sha256OfFile returns the hex digest and size of the file at path.
func Sha256OfFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	h := NewHasher()
	if _, err := io.Copy(h, f); err != nil {
		return "", 0, err
	}
	return h.Sum(), h.Size(), nil
}
