// Package persist provides atomic on-disk persistence for small metadata
// objects and a structured logger, mirroring the habits the rest of the
// tree relies on: every durable write goes through a temp-file-then-rename
// so a crash can never observe a half-written file.
package persist

import (
	"encoding/hex"
	"encoding/json"
	"os"
	"strings"

	"github.com/NebulousLabs/errors"
	"github.com/NebulousLabs/fastrand"

	"github.com/conarylabs/conary/build"
)

// tempSuffix is appended to the final filename while a save is in flight.
const tempSuffix = "_temp"

// ErrBadFilenameSuffix is returned by SaveJSON and LoadJSON when filename
// ends in the temp-file suffix, which for LoadJSON would mean reading a
// partially-written save.
var ErrBadFilenameSuffix = errors.New("suffix of filename must not be " + tempSuffix)

// Metadata identifies the kind and version of a persisted object, so that a
// reader can refuse to load a file written by an incompatible version.
type Metadata struct {
	Header  string
	Version string
}

// SaveJSON writes data to filename as JSON, atomically. The data is first
// written to a uniquely-suffixed temp file in the same directory, fsynced,
// and then renamed over the final path.
func SaveJSON(meta Metadata, data interface{}, filename string) error {
	if strings.HasSuffix(filename, tempSuffix) {
		return ErrBadFilenameSuffix
	}
	tmpFilename := filename + tempSuffix + "_" + hex.EncodeToString(fastrand.Bytes(6))

	f, err := os.OpenFile(tmpFilename, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return build.ExtendErr("unable to open temp persist file", err)
	}

	enc := json.NewEncoder(f)
	if err := enc.Encode(meta.Header); err != nil {
		f.Close()
		os.Remove(tmpFilename)
		return build.ExtendErr("unable to encode persist header", err)
	}
	if err := enc.Encode(meta.Version); err != nil {
		f.Close()
		os.Remove(tmpFilename)
		return build.ExtendErr("unable to encode persist version", err)
	}
	b, err := json.MarshalIndent(data, "", "\t")
	if err != nil {
		f.Close()
		os.Remove(tmpFilename)
		return build.ExtendErr("unable to marshal persist data", err)
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		os.Remove(tmpFilename)
		return build.ExtendErr("unable to write persist data", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpFilename)
		return build.ExtendErr("unable to fsync persist data", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpFilename)
		return build.ExtendErr("unable to close persist temp file", err)
	}
	if err := os.Rename(tmpFilename, filename); err != nil {
		os.Remove(tmpFilename)
		return build.ExtendErr("unable to rename persist temp file into place", err)
	}
	return nil
}

// LoadJSON reads a file written by SaveJSON into data, verifying that its
// Metadata header and version match the expected meta.
func LoadJSON(meta Metadata, data interface{}, filename string) error {
	if strings.HasSuffix(filename, tempSuffix) {
		return ErrBadFilenameSuffix
	}
	f, err := os.Open(filename)
	if err != nil {
		return build.ExtendErr("unable to open persist file", err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	var header, version string
	if err := dec.Decode(&header); err != nil {
		return build.ExtendErr("unable to decode persist header", err)
	}
	if err := dec.Decode(&version); err != nil {
		return build.ExtendErr("unable to decode persist version", err)
	}
	if header != meta.Header {
		return errors.New("persist header mismatch: expected " + meta.Header + " got " + header)
	}
	if version != meta.Version {
		return errors.New("persist version mismatch: expected " + meta.Version + " got " + version)
	}
	if err := dec.Decode(data); err != nil {
		return build.ExtendErr("unable to decode persist data", err)
	}
	return nil
}
