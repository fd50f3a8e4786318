package cas

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/conarylabs/conary/build"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := build.TempDir("cas", t.Name())
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatal(err)
	}
	s, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestStoreAndGet(t *testing.T) {
	s := newTestStore(t)
	data := []byte("nginx binary contents")

	h, err := s.Store(data)
	if err != nil {
		t.Fatal(err)
	}
	if !s.Has(h) {
		t.Fatal("store does not report the object as present after Store")
	}
	got, err := s.Get(h)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("round-tripped data does not match")
	}
}

func TestStoreIdempotent(t *testing.T) {
	s := newTestStore(t)
	data := []byte("idempotent payload")

	h1, err := s.Store(data)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := s.Store(data)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatal("storing the same data twice produced different hashes")
	}
	hashes, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	count := 0
	for _, h := range hashes {
		if h == h1 {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one on-disk object for the hash, found %d", count)
	}
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)
	data := []byte("never stored")
	h, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	hash, storeErr := h.Store(data)
	if storeErr != nil {
		t.Fatal(storeErr)
	}
	if _, err := s.Get(hash); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreSymlink(t *testing.T) {
	s := newTestStore(t)
	h, err := s.StoreSymlink("/usr/bin/real-nginx")
	if err != nil {
		t.Fatal(err)
	}
	data, err := s.Get(h)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "SYMLINK:/usr/bin/real-nginx" {
		t.Fatalf("unexpected symlink encoding: %s", data)
	}
}

func TestHardlinkFromExisting(t *testing.T) {
	dir := build.TempDir("cas", t.Name()+"-src")
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatal(err)
	}
	src := filepath.Join(dir, "adopted-file")
	content := []byte("host-installed content")
	if err := os.WriteFile(src, content, 0644); err != nil {
		t.Fatal(err)
	}

	s := newTestStore(t)
	h, err := s.HardlinkFromExisting(src)
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(h)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, content) {
		t.Fatal("adopted content mismatch")
	}
}

func TestStoreReader(t *testing.T) {
	s := newTestStore(t)
	data := []byte("streamed content for the CAS")
	h, n, err := s.StoreReader(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if n != int64(len(data)) {
		t.Fatalf("expected %d bytes written, got %d", len(data), n)
	}
	got, err := s.Get(h)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("streamed round trip mismatch")
	}
}
