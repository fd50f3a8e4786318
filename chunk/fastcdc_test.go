package chunk

import (
	"bytes"
	"crypto/sha256"
	"math/rand"
	"testing"

	"github.com/conarylabs/conary/types"
)

func randomBytes(t *testing.T, n int, seed int64) []byte {
	t.Helper()
	r := rand.New(rand.NewSource(seed))
	b := make([]byte, n)
	if _, err := r.Read(b); err != nil {
		t.Fatal(err)
	}
	return b
}

// TestRoundTrip verifies that concatenating chunk data reproduces the
// input exactly, and that the manifest's whole-file hash matches.
func TestRoundTrip(t *testing.T) {
	data := randomBytes(t, 3*1024*1024, 1)
	mf, chunks := Manifest("bin/payload", data)

	if mf.WholeFileHash != types.HashBytes(data) {
		t.Fatal("whole file hash does not match input")
	}
	if int64(len(data)) != mf.Size {
		t.Fatal("manifest size mismatch")
	}

	var buf bytes.Buffer
	for i, c := range chunks {
		if c.Hash != mf.ChunkHashes[i] {
			t.Fatalf("chunk %d hash does not match manifest entry", i)
		}
		if c.Hash != types.HashBytes(c.Data) {
			t.Fatalf("chunk %d hash does not match its own data", i)
		}
		buf.Write(c.Data)
	}
	if !bytes.Equal(buf.Bytes(), data) {
		t.Fatal("reassembled data does not match original")
	}
}

// TestChunkSizeBounds checks that every chunk but the last respects
// [MinSize, MaxSize].
func TestChunkSizeBounds(t *testing.T) {
	data := randomBytes(t, 5*1024*1024, 2)
	chunks := Chunk(data)
	for i, c := range chunks {
		if i < len(chunks)-1 {
			if c.Length < MinSize || c.Length > MaxSize {
				t.Fatalf("chunk %d has out-of-bounds length %d", i, c.Length)
			}
		}
	}
}

// TestLocalEditChangesFewChunks verifies the core CDC property: editing a
// small contiguous byte range changes at most a couple of chunks, leaving
// the rest of the chunk list identical.
func TestLocalEditChangesFewChunks(t *testing.T) {
	original := randomBytes(t, 2*1024*1024, 3)
	edited := append([]byte(nil), original...)

	editOffset := 1 * 1024 * 1024
	editLen := 100
	copy(edited[editOffset:editOffset+editLen], randomBytes(t, editLen, 4))

	origChunks := Chunk(original)
	editChunks := Chunk(edited)

	origHashes := make(map[types.Hash]int)
	for _, c := range origChunks {
		origHashes[c.Hash]++
	}
	changed := 0
	for _, c := range editChunks {
		if origHashes[c.Hash] == 0 {
			changed++
		}
	}
	maxExpected := (editLen / MinSize) + 3
	if changed > maxExpected {
		t.Fatalf("local edit changed %d chunks, expected at most %d", changed, maxExpected)
	}
	if changed == 0 {
		t.Fatal("expected the edit to change at least one chunk")
	}
}

func TestDelta(t *testing.T) {
	original := randomBytes(t, 1024*1024, 5)
	edited := append([]byte(nil), original...)
	copy(edited[500000:500050], randomBytes(t, 50, 6))

	oldMF, _ := Manifest("f", original)
	newMF, _ := Manifest("f", edited)

	d := Delta(oldMF, newMF)
	if len(d) == 0 {
		t.Fatal("expected a non-empty delta")
	}
	if len(d) >= len(newMF.ChunkHashes) {
		t.Fatal("delta should be much smaller than the full chunk list")
	}

	// Sanity: every delta hash must actually exist in the new manifest.
	newSet := make(map[types.Hash]bool)
	for _, h := range newMF.ChunkHashes {
		newSet[h] = true
	}
	for _, h := range d {
		if !newSet[h] {
			t.Fatalf("delta hash %s not present in new manifest", h)
		}
	}
}

func TestHashBytesMatchesStdlib(t *testing.T) {
	data := []byte("hello world")
	got := types.HashBytes(data)
	want := sha256.Sum256(data)
	if got != types.Hash(want) {
		t.Fatal("HashBytes does not match stdlib sha256")
	}
}
