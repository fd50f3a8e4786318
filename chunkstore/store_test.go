package chunkstore

import (
	"bytes"
	"math/rand"
	"os"
	"testing"

	"github.com/conarylabs/conary/build"
	"github.com/conarylabs/conary/chunk"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := build.TempDir("chunkstore", t.Name())
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatal(err)
	}
	s, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func randData(n int, seed int64) []byte {
	r := rand.New(rand.NewSource(seed))
	b := make([]byte, n)
	r.Read(b)
	return b
}

func TestStoreChunkedFileAndReassemble(t *testing.T) {
	s := newTestStore(t)
	data := randData(2*1024*1024, 42)
	mf, chunks := chunk.Manifest("usr/bin/nginx", data)

	stats, err := s.StoreChunkedFile(mf, chunks)
	if err != nil {
		t.Fatal(err)
	}
	if stats.NewChunks != len(chunks) {
		t.Fatalf("expected all %d chunks new, got %d", len(chunks), stats.NewChunks)
	}
	if stats.NewBytes != mf.Size {
		t.Fatalf("expected new bytes to equal file size on first ingest")
	}

	got, err := s.ReassembleFile(mf)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("reassembled file does not match original")
	}
}

func TestStoreChunkedFileDedup(t *testing.T) {
	s := newTestStore(t)
	data := randData(1024*1024, 7)
	mf, chunks := chunk.Manifest("etc/nginx/nginx.conf", data)

	if _, err := s.StoreChunkedFile(mf, chunks); err != nil {
		t.Fatal(err)
	}
	stats, err := s.StoreChunkedFile(mf, chunks)
	if err != nil {
		t.Fatal(err)
	}
	if stats.NewChunks != 0 {
		t.Fatalf("expected zero new chunks on second ingest, got %d", stats.NewChunks)
	}
	if stats.ExistingChunks != len(chunks) {
		t.Fatalf("expected all chunks to be reported existing, got %d/%d", stats.ExistingChunks, len(chunks))
	}
}

func TestReassembleMissingChunk(t *testing.T) {
	s := newTestStore(t)
	data := randData(64*1024, 9)
	mf, _ := chunk.Manifest("f", data)

	if _, err := s.ReassembleFile(mf); err != ErrMissingChunk {
		t.Fatalf("expected ErrMissingChunk, got %v", err)
	}
}

func TestStoreChunkIdempotent(t *testing.T) {
	s := newTestStore(t)
	data := randData(32*1024, 11)
	mf, chunks := chunk.Manifest("f", data)
	c := chunks[0]
	_ = mf

	first, err := s.StoreChunk(c)
	if err != nil {
		t.Fatal(err)
	}
	if !first {
		t.Fatal("expected first StoreChunk to report newly stored")
	}
	second, err := s.StoreChunk(c)
	if err != nil {
		t.Fatal(err)
	}
	if second {
		t.Fatal("expected second StoreChunk to report not newly stored")
	}
}
