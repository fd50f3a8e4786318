package chunk

import (
	"github.com/conarylabs/conary/types"
)

// ChunkedFile is the manifest for a reconstructable file: its path, size,
// whole-file hash, and the ordered list of chunk hashes that reassemble to
// it. The whole-file hash lets reassembly be verified end-to-end, since the
// chunk store alone only guarantees each individual chunk matches its own
// hash.
type ChunkedFile struct {
	Path          string
	Size          int64
	WholeFileHash types.Hash
	ChunkHashes   []types.Hash
}

// Manifest chunks data and returns the resulting ChunkedFile alongside the
// Chunk slice needed to actually store the bytes (the manifest itself only
// carries hashes).
func Manifest(path string, data []byte) (ChunkedFile, []Chunk) {
	chunks := Chunk(data)
	hashes := make([]types.Hash, len(chunks))
	for i, c := range chunks {
		hashes[i] = c.Hash
	}
	return ChunkedFile{
		Path:          path,
		Size:          int64(len(data)),
		WholeFileHash: types.HashBytes(data),
		ChunkHashes:   hashes,
	}, chunks
}
