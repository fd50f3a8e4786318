package journal

import (
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"

	"github.com/conarylabs/conary/build"
)

// Writer appends CRC-framed records to a single journal file, fsyncing the
// file (and, on barrier records, its containing directory) before
// returning from WriteBarrier - so that a barrier record is never observed
// as written unless it is already durable.
type Writer struct {
	f       *os.File
	dirPath string
}

// Create creates a new journal file at path (failing if one already
// exists, since a stale journal must never be silently overwritten) and
// returns a Writer for it.
func Create(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return nil, build.ExtendErr("unable to create journal file", err)
	}
	return &Writer{f: f}, nil
}

// Open opens an existing journal file for appending, used during recovery
// cleanup (e.g. to append a final Done record before archiving).
func Open(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, build.ExtendErr("unable to open journal file for append", err)
	}
	return &Writer{f: f}, nil
}

// Write appends rec to the journal without syncing. Use WriteBarrier for
// records that must be durable before the caller proceeds.
func (w *Writer) Write(rec Record) error {
	line, err := encodeLine(rec)
	if err != nil {
		return err
	}
	if _, err := w.f.Write(line); err != nil {
		return build.ExtendErr("unable to write journal record", err)
	}
	return nil
}

// WriteBarrier appends rec, flushes it to the OS, and fsyncs the journal
// file and then its containing directory before returning. Per spec §4.2,
// write_barrier is "write then flush then sync_all" - Go's os.File has no
// separate buffer to flush, so Sync alone provides the same guarantee once
// Write has returned.
func (w *Writer) WriteBarrier(rec Record) error {
	if err := w.Write(rec); err != nil {
		return err
	}
	if err := w.f.Sync(); err != nil {
		return build.ExtendErr("unable to fsync journal after barrier record", err)
	}
	dir, err := os.Open(filepath.Dir(w.f.Name()))
	if err != nil {
		return build.ExtendErr("unable to open journal directory for fsync", err)
	}
	defer dir.Close()
	if err := dir.Sync(); err != nil {
		return build.ExtendErr("unable to fsync journal directory after barrier record", err)
	}
	return nil
}

// Close closes the underlying file without deleting it.
func (w *Writer) Close() error {
	return w.f.Close()
}

// encodeLine renders a record as "{crc32_hex}|{json}\n".
func encodeLine(rec Record) ([]byte, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, build.ExtendErr("unable to marshal journal record", err)
	}
	sum := crc32.ChecksumIEEE(payload)
	line := fmt.Sprintf("%08x|%s\n", sum, payload)
	return []byte(line), nil
}
