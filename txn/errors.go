package txn

import "fmt"

// ConflictKind classifies why planning rejected a path.
type ConflictKind string

const (
	ConflictCrossPackage ConflictKind = "cross-package-conflict"
	ConflictWithinBatch  ConflictKind = "within-batch-conflict"
)

// Conflict describes one path the planner refused to plan, per spec §4.1's
// "conflicts abort with a structured list."
type Conflict struct {
	Path         string
	Kind         ConflictKind
	CurrentOwner string // trove name owning the path today, if any
	Requested    string // trove name requesting the path
}

func (c Conflict) Error() string {
	return fmt.Sprintf("path %q is owned by %q and cannot be replaced by %q", c.Path, c.CurrentOwner, c.Requested)
}

// ConflictError wraps the full set of path conflicts discovered while
// planning, surfaced to the caller with no filesystem side effects (spec
// §7: "Conflict ... caller-visible; no side effects yet").
type ConflictError struct {
	Conflicts []Conflict
}

func (e *ConflictError) Error() string {
	if len(e.Conflicts) == 1 {
		return e.Conflicts[0].Error()
	}
	return fmt.Sprintf("%d path conflicts, first: %s", len(e.Conflicts), e.Conflicts[0].Error())
}

// IntegrityError reports a content hash mismatch, returned by Prepare when
// content stored into the CAS hashes differently from the plan (spec §7).
// The federation package has its own IntegrityError for fetched chunks.
type IntegrityError struct {
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("content sha256:%s expected but got sha256:%s", e.Expected, e.Actual)
}

// DependencyError reports an unresolved capability requirement.
type DependencyError struct {
	Trove      string
	Capability string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%q requires capability %q, no installed or candidate trove provides it", e.Trove, e.Capability)
}

// CorruptionError marks a journal that recovery could not safely
// interpret. Spec §4.3/§7: "do NOT guess intent" — this always requires
// operator attention.
type CorruptionError struct {
	TxUUID string
	Reason string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("transaction %s journal is corrupted: %s", e.TxUUID, e.Reason)
}

// LockHeldError is returned at engine startup when another writer already
// holds the exclusive lock file (spec §5/§7).
type LockHeldError struct {
	LockPath string
}

func (e *LockHeldError) Error() string {
	return fmt.Sprintf("lock %s is held by another writer", e.LockPath)
}
