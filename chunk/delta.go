package chunk

import "github.com/conarylabs/conary/types"

// Delta returns the chunk hashes present in newFile but absent from
// oldFile, in the order they appear in newFile. For a localized edit to a
// large file, this is typically a small fraction of newFile's total chunk
// count, since FastCDC boundaries keep unrelated regions byte-identical
// (and therefore hash-identical) across versions.
func Delta(oldFile, newFile ChunkedFile) []types.Hash {
	old := make(map[types.Hash]struct{}, len(oldFile.ChunkHashes))
	for _, h := range oldFile.ChunkHashes {
		old[h] = struct{}{}
	}
	var delta []types.Hash
	for _, h := range newFile.ChunkHashes {
		if _, ok := old[h]; !ok {
			delta = append(delta, h)
		}
	}
	return delta
}
