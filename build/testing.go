package build

import (
	"io"
	"os"
	"path/filepath"
	"time"
)

// TestingDir is the directory that contains all files and folders created
// during testing.
var TestingDir = filepath.Join(os.TempDir(), "ConaryTesting")

// TempDir joins the provided path elements and prefixes them with
// TestingDir, wiping away any stale data left behind by a previous run.
func TempDir(dirs ...string) string {
	path := filepath.Join(TestingDir, filepath.Join(dirs...))
	os.RemoveAll(path)
	return path
}

// CopyFile copies a file from source to dest.
func CopyFile(source, dest string) error {
	sf, err := os.Open(source)
	if err != nil {
		return err
	}
	defer sf.Close()

	df, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer df.Close()

	_, err = io.Copy(df, sf)
	return err
}

// Retry calls fn up to tries times, sleeping durationBetweenAttempts between
// attempts, returning nil the first time fn succeeds. If fn never succeeds,
// the final error is returned.
func Retry(tries int, durationBetweenAttempts time.Duration, fn func() error) (err error) {
	for i := 1; i < tries; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		time.Sleep(durationBetweenAttempts)
	}
	return fn()
}
