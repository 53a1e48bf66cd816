package project

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// Digest is a fixed 256-bit content hash used as a cache key.
type Digest [32]byte

// Hex returns the lowercase hex form of d.
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

// Short returns the first 12 hex digits of d.
func (d Digest) Short() string {
	return d.Hex()[:12]
}

// IsZero reports whether d was never computed.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// Combine builds an aggregate hash: H( content || dep1 || dep2 ... ).
// The order of deps must be deterministic.
func Combine(content Digest, deps ...Digest) Digest {
	h := sha256.New()
	_, _ = h.Write(content[:])
	for _, d := range deps {
		_, _ = h.Write(d[:])
	}
	var out Digest
	copy(out[:], h.Sum(nil))
	return out
}

// BytesDigest hashes data.
func BytesDigest(data []byte) Digest {
	return sha256.Sum256(data)
}

// FileDigest hashes the contents of the file at path.
func FileDigest(path string) (Digest, error) {
	// #nosec G304 -- path comes from build configuration
	f, err := os.Open(path)
	if err != nil {
		return Digest{}, err
	}
	defer func() {
		_ = f.Close()
	}()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return Digest{}, fmt.Errorf("failed to hash %q: %w", path, err)
	}
	var out Digest
	copy(out[:], h.Sum(nil))
	return out, nil
}
