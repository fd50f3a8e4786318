// Package chunkstore layers chunk-level deduplication bookkeeping on top of
// a plain content-addressed object store: it tracks which chunks were
// actually new versus already-seen when ingesting a ChunkedFile, and can
// reassemble a file from its manifest.
package chunkstore

import (
	"bytes"
	"path/filepath"

	"github.com/NebulousLabs/errors"

	"github.com/conarylabs/conary/build"
	"github.com/conarylabs/conary/cas"
	"github.com/conarylabs/conary/chunk"
	"github.com/conarylabs/conary/types"
)

// ErrMissingChunk is returned by Reassemble when a manifest references a
// hash the store does not have.
var ErrMissingChunk = errors.New("chunk store is missing a chunk referenced by the manifest")

// Store is a chunk-addressed object store. Its on-disk layout is the CAS's:
// cas.New adds an "objects" subdirectory, so chunks sit at
// root/objects/<shard>/<rest>, not directly under root. It is deliberately
// kept as a wholly separate root
// from the package CAS so that chunk-level dedup (used for delta transfer)
// and whole-file dedup (used for install-time hardlinking) can be
// independently garbage collected.
type Store struct {
	inner *cas.Store
}

// New returns a Store rooted at root.
func New(root string) (*Store, error) {
	// cas.Store already implements exactly the sharded temp+rename layout
	// spec §4.6 calls for; chunkstore.Store is a thin adapter that adds
	// dedup statistics and reassembly on top, so it is built on cas.Store
	// directly rather than duplicating its I/O.
	inner, err := cas.New(root)
	if err != nil {
		return nil, build.ExtendErr("unable to initialize chunk store", err)
	}
	return &Store{inner: inner}, nil
}

// StoreChunk writes c to disk if not already present, returning whether the
// write actually created a new object. StoreChunk is idempotent: calling it
// twice with the same chunk leaves identical disk state and the second call
// returns false.
func (s *Store) StoreChunk(c chunk.Chunk) (newlyStored bool, err error) {
	if s.inner.Has(c.Hash) {
		return false, nil
	}
	h, err := s.inner.Store(c.Data)
	if err != nil {
		return false, err
	}
	if h != c.Hash {
		return false, errors.New("chunk data does not match its declared hash")
	}
	return true, nil
}

// StoreStats summarizes what happened while ingesting a ChunkedFile.
type StoreStats struct {
	NewChunks      int
	ExistingChunks int
	NewBytes       int64
	DedupedBytes   int64
	FileSize       int64
}

// StoreChunkedFile stores every chunk of chunks that the store does not
// already have, returning dedup statistics. chunks must correspond
// one-to-one, in order, with file.ChunkHashes.
func (s *Store) StoreChunkedFile(file chunk.ChunkedFile, chunks []chunk.Chunk) (StoreStats, error) {
	if len(chunks) != len(file.ChunkHashes) {
		return StoreStats{}, errors.New("chunk list does not match manifest chunk count")
	}
	var stats StoreStats
	stats.FileSize = file.Size
	for i, c := range chunks {
		if c.Hash != file.ChunkHashes[i] {
			return StoreStats{}, errors.New("chunk list order does not match manifest")
		}
		newly, err := s.StoreChunk(c)
		if err != nil {
			return StoreStats{}, err
		}
		if newly {
			stats.NewChunks++
			stats.NewBytes += int64(c.Length)
		} else {
			stats.ExistingChunks++
			stats.DedupedBytes += int64(c.Length)
		}
	}
	return stats, nil
}

// Reassemble concatenates the chunks named by hashes, in order, returning
// the reconstructed bytes. It returns ErrMissingChunk if any hash is absent.
func (s *Store) Reassemble(hashes []types.Hash) ([]byte, error) {
	var buf bytes.Buffer
	for _, h := range hashes {
		data, err := s.inner.Get(h)
		if errors.Contains(err, cas.ErrNotFound) {
			return nil, ErrMissingChunk
		}
		if err != nil {
			return nil, err
		}
		buf.Write(data)
	}
	return buf.Bytes(), nil
}

// ReassembleFile reassembles file using the chunks named in its manifest
// and verifies the result against the manifest's whole-file hash.
func (s *Store) ReassembleFile(file chunk.ChunkedFile) ([]byte, error) {
	data, err := s.Reassemble(file.ChunkHashes)
	if err != nil {
		return nil, err
	}
	if types.HashBytes(data) != file.WholeFileHash {
		return nil, errors.New("reassembled file does not match its whole-file hash")
	}
	return data, nil
}

// Has reports whether the chunk store already has chunk hash h.
func (s *Store) Has(h types.Hash) bool {
	return s.inner.Has(h)
}

// Path returns the on-disk path for chunk hash h, mirroring CAS sharding:
// root/objects/<first-2-hex>/<remaining-62>.
func (s *Store) Path(h types.Hash) string {
	return filepath.Join(s.inner.Path(h))
}
