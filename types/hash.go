// Package types defines the value types shared across the transaction
// engine, the content-addressed store, the chunker, and the federation
// fetcher: content hashes, the small tagged-union enums the spec calls out,
// and the path helpers used to derive on-disk shard locations from a hash.
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"hash"
	"path/filepath"
)

// Hash is a SHA-256 digest, always rendered as a lowercase 64-character hex
// string on disk and in the database. The zero value is not a valid hash.
type Hash [sha256.Size]byte

// HashBytes returns the SHA-256 hash of b.
func HashBytes(b []byte) Hash {
	return Hash(sha256.Sum256(b))
}

// String renders the hash as lowercase hex.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the zero hash (never a valid content hash).
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// ParseHash parses a 64-character lowercase hex string into a Hash.
func ParseHash(s string) (Hash, error) {
	if len(s) != sha256.Size*2 {
		return Hash{}, errors.New("invalid hash length")
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, err
	}
	var h Hash
	copy(h[:], b)
	return h, nil
}

// MarshalText implements encoding.TextMarshaler so Hash can be used directly
// as a JSON string field.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// Hasher incrementally computes a Hash, for streaming writes that should
// not require buffering the whole input in memory.
type Hasher struct {
	h hash.Hash
}

// NewHasher returns a ready-to-use streaming SHA-256 Hasher.
func NewHasher() *Hasher {
	return &Hasher{h: sha256.New()}
}

// Write implements io.Writer.
func (hs *Hasher) Write(p []byte) (int, error) {
	return hs.h.Write(p)
}

// Sum returns the Hash of all bytes written so far.
func (hs *Hasher) Sum() Hash {
	var out Hash
	copy(out[:], hs.h.Sum(nil))
	return out
}

// ShardPath returns the two-level sharded relative path for a hash:
// "<first-2-hex-chars>/<remaining-62-chars>". Both the CAS and the chunk
// store derive their on-disk layout from this.
func (h Hash) ShardPath() string {
	s := h.String()
	return filepath.Join(s[:2], s[2:])
}
