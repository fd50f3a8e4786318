package txn

import (
	"os"

	"github.com/google/uuid"
)

// Dependencies defines every OS-facing operation the engine performs while
// moving a transaction through its phases. Tests substitute a fake
// implementation to inject crashes at specific points without touching
// the real filesystem, mirroring contractmanager's dependencies interface.
type Dependencies interface {
	// Rename performs an atomic same-device rename, used for both backup
	// (live path -> backup path) and apply (stage path -> live path).
	Rename(oldpath, newpath string) error

	// Link creates a hard link, used to stage new content from the CAS.
	Link(oldpath, newpath string) error

	// Symlink creates a symlink at newpath pointing at target.
	Symlink(target, newpath string) error

	// MkdirAll creates a directory chain.
	MkdirAll(path string, perm os.FileMode) error

	// Remove removes a single file or empty directory.
	Remove(path string) error

	// RemoveAll removes a path and everything beneath it, used to clean
	// up a transaction's work directory once it is no longer needed.
	RemoveAll(path string) error

	// Chmod sets a path's permission bits, applied after a hardlink-based
	// stage so the destination's mode matches the source regardless of
	// what the CAS object's own mode happens to be.
	Chmod(path string, mode os.FileMode) error

	// Stat is used to classify an existing path before backing it up.
	Stat(path string) (os.FileInfo, error)

	// Lstat behaves like Stat but does not follow a final symlink.
	Lstat(path string) (os.FileInfo, error)

	// ReadFile reads a whole file, used to read a backed-up symlink
	// marker file.
	ReadFile(path string) ([]byte, error)

	// WriteFile writes a whole file, used to write a symlink marker file
	// at a backup location.
	WriteFile(path string, data []byte, perm os.FileMode) error

	// RandomUUID returns a fresh opaque transaction identifier.
	RandomUUID() string
}

// productionDependencies implements Dependencies against the real
// operating system.
type productionDependencies struct{}

// Production is the Dependencies implementation used outside of tests.
var Production Dependencies = productionDependencies{}

func (productionDependencies) Rename(oldpath, newpath string) error { return os.Rename(oldpath, newpath) }
func (productionDependencies) Link(oldpath, newpath string) error   { return os.Link(oldpath, newpath) }
func (productionDependencies) Symlink(target, newpath string) error {
	return os.Symlink(target, newpath)
}
func (productionDependencies) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}
func (productionDependencies) Remove(path string) error    { return os.Remove(path) }
func (productionDependencies) RemoveAll(path string) error  { return os.RemoveAll(path) }
func (productionDependencies) Chmod(path string, mode os.FileMode) error {
	return os.Chmod(path, mode)
}
func (productionDependencies) Stat(path string) (os.FileInfo, error)  { return os.Stat(path) }
func (productionDependencies) Lstat(path string) (os.FileInfo, error) { return os.Lstat(path) }
func (productionDependencies) ReadFile(path string) ([]byte, error)   { return os.ReadFile(path) }
func (productionDependencies) WriteFile(path string, data []byte, perm os.FileMode) error {
	return os.WriteFile(path, data, perm)
}

// RandomUUID generates a random transaction identifier, treated opaquely
// per spec §6.6 beyond its use as a correlation key across the journal
// filename, Begin/DbCommitIntent records, and the changesets table.
func (productionDependencies) RandomUUID() string {
	return uuid.NewString()
}
