package federation

import (
	"fmt"

	"github.com/conarylabs/conary/types"
)

// IntegrityError is returned when a fetched chunk's actual hash does not
// match the hash it was requested under - spec §7 classifies this as an
// "Integrity failure", which "counts as peer failure for federation".
type IntegrityError struct {
	Expected types.Hash
	Actual   types.Hash
	Peer     string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("content %s expected but got %s from peer %s", e.Expected, e.Actual, e.Peer)
}

// NoPeerAvailableError is returned by Fetch when every candidate peer was
// either disallowed, circuit-open, or failed, and no upstream fallback
// was configured.
type NoPeerAvailableError struct {
	Hash    types.Hash
	Tried   int
	LastErr error
}

func (e *NoPeerAvailableError) Error() string {
	return fmt.Sprintf("no peer available for chunk %s (%d tried): %v", e.Hash, e.Tried, e.LastErr)
}

func (e *NoPeerAvailableError) Unwrap() error { return e.LastErr }
