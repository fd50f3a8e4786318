// Package cas implements the content-addressed object store described in
// spec §4.4: a two-level sharded directory under a root, written with
// temp-file-then-rename so that concurrent writers of the same hash never
// observe a partial file, and so that a crash can never leave a named
// object half-written.
package cas

import (
	"encoding/hex"
	"io"
	"os"
	"path/filepath"

	"github.com/NebulousLabs/errors"
	"github.com/NebulousLabs/fastrand"

	"github.com/conarylabs/conary/build"
	"github.com/conarylabs/conary/types"
)

// ErrNotFound is returned by Get when the requested hash is not present.
var ErrNotFound = errors.New("object not found in content-addressed store")

// Store is a content-addressed object store rooted at a single directory.
type Store struct {
	root string
}

// New returns a Store rooted at root, creating the root and its "objects"
// subdirectory if necessary.
func New(root string) (*Store, error) {
	objRoot := filepath.Join(root, "objects")
	if err := os.MkdirAll(objRoot, 0755); err != nil {
		return nil, build.ExtendErr("unable to create CAS object root", err)
	}
	return &Store{root: objRoot}, nil
}

// path returns the on-disk path for hash h: root/<2-char-shard>/<62-char-rest>.
func (s *Store) path(h types.Hash) string {
	return filepath.Join(s.root, h.ShardPath())
}

// Has reports whether the store already contains an object for hash h.
func (s *Store) Has(h types.Hash) bool {
	_, err := os.Stat(s.path(h))
	return err == nil
}

// Store writes data into the CAS, returning its content hash. The write is
// idempotent: if an object with the resulting hash already exists, the
// temp file is discarded and no error is returned. Two concurrent writers
// of the same hash are safe to race - whichever rename wins, the bytes at
// the final path are the same bytes either writer was writing.
func (s *Store) Store(data []byte) (types.Hash, error) {
	h := types.HashBytes(data)
	if s.Has(h) {
		return h, nil
	}
	dst := s.path(h)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return types.Hash{}, build.ExtendErr("unable to create CAS shard directory", err)
	}
	tmp := dst + ".tmp." + hex.EncodeToString(fastrand.Bytes(6))
	f, err := os.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return types.Hash{}, build.ExtendErr("unable to create CAS temp file", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return types.Hash{}, build.ExtendErr("unable to write CAS temp file", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return types.Hash{}, build.ExtendErr("unable to fsync CAS temp file", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return types.Hash{}, build.ExtendErr("unable to close CAS temp file", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		// Another writer may have already won the race; that's fine as
		// long as the final object now exists.
		if s.Has(h) {
			return h, nil
		}
		return types.Hash{}, build.ExtendErr("unable to rename CAS temp file into place", err)
	}
	return h, nil
}

// StoreSymlink stores a symlink's target as a regular CAS object containing
// the literal target string, addressed like any other content.
func (s *Store) StoreSymlink(target string) (types.Hash, error) {
	return s.Store([]byte("SYMLINK:" + target))
}

// HardlinkFromExisting hashes the file at path and links it into the CAS by
// that hash, reusing the existing object if present. This is the adoption
// path: it claims ownership of a host-installed file at zero additional
// disk cost, since a hardlink shares the same inode as the original file.
func (s *Store) HardlinkFromExisting(path string) (types.Hash, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.Hash{}, build.ExtendErr("unable to read file for adoption", err)
	}
	h := types.HashBytes(data)
	if s.Has(h) {
		return h, nil
	}
	dst := s.path(h)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return types.Hash{}, build.ExtendErr("unable to create CAS shard directory", err)
	}
	if err := os.Link(path, dst); err == nil {
		return h, nil
	}
	// Cross-device or unsupported hardlink: fall back to a regular store,
	// which still de-duplicates by content even though this particular
	// adoption costs disk space.
	return s.Store(data)
}

// Get returns the bytes stored under hash h.
func (s *Store) Get(h types.Hash) ([]byte, error) {
	data, err := os.ReadFile(s.path(h))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, build.ExtendErr("unable to read CAS object", err)
	}
	return data, nil
}

// Open returns a readable handle on the object stored under hash h, useful
// for the transaction engine's hardlink-based stage phase which never needs
// to read the bytes into memory at all.
func (s *Store) Open(h types.Hash) (*os.File, error) {
	f, err := os.Open(s.path(h))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, build.ExtendErr("unable to open CAS object", err)
	}
	return f, nil
}

// Path returns the absolute on-disk path of the object stored under hash h,
// used by the transaction engine to hardlink directly from the CAS into a
// transaction's stage directory.
func (s *Store) Path(h types.Hash) string {
	return s.path(h)
}

// List returns every hash currently stored in the CAS.
func (s *Store) List() ([]types.Hash, error) {
	var hashes []types.Hash
	err := filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if filepath.Ext(path) == ".tmp" {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		shard := filepath.Dir(rel)
		rest := filepath.Base(rel)
		h, err := types.ParseHash(shard + rest)
		if err != nil {
			return nil // skip anything that isn't a hash-named object
		}
		hashes = append(hashes, h)
		return nil
	})
	if err != nil {
		return nil, build.ExtendErr("unable to list CAS objects", err)
	}
	return hashes, nil
}

// Remove deletes the on-disk object for hash h, if present. It is used
// only by garbage collection, after the caller has already verified h has
// zero live references in the database — CAS itself has no notion of
// reference counts.
func (s *Store) Remove(h types.Hash) error {
	err := os.Remove(s.path(h))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// io.Copy is used by callers that stream large objects into the store
// rather than buffering them fully in memory; StoreReader mirrors Store but
// reads incrementally.
func (s *Store) StoreReader(r io.Reader) (types.Hash, int64, error) {
	tmp := filepath.Join(s.root, "tmp."+hex.EncodeToString(fastrand.Bytes(8)))
	f, err := os.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return types.Hash{}, 0, build.ExtendErr("unable to create CAS temp file", err)
	}
	defer os.Remove(tmp) // no-op once renamed away

	hasher := types.NewHasher()
	n, err := io.Copy(io.MultiWriter(f, hasher), r)
	if err != nil {
		f.Close()
		return types.Hash{}, 0, build.ExtendErr("unable to stream data into CAS", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return types.Hash{}, 0, build.ExtendErr("unable to fsync CAS temp file", err)
	}
	if err := f.Close(); err != nil {
		return types.Hash{}, 0, build.ExtendErr("unable to close CAS temp file", err)
	}

	h := hasher.Sum()
	dst := s.path(h)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return types.Hash{}, 0, build.ExtendErr("unable to create CAS shard directory", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		if s.Has(h) {
			return h, n, nil
		}
		return types.Hash{}, 0, build.ExtendErr("unable to rename CAS temp file into place", err)
	}
	return h, n, nil
}
