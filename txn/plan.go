package txn

import (
	"database/sql"
	"errors"

	"github.com/conarylabs/conary/db"
	"github.com/conarylabs/conary/types"
)

// PathKind classifies a single requested path against current database
// ownership, the four outcomes spec §4.1 names explicitly.
type PathKind string

const (
	PathFreshAdd PathKind = "fresh-add"
	PathReplace  PathKind = "replace"
	PathConflict PathKind = "cross-package-conflict"
	PathNoOp     PathKind = "no-op"
)

// FileOp is one requested filesystem mutation, the planner's input unit.
type FileOp struct {
	Path          string
	Hash          types.Hash
	Size          int64
	Mode          uint32
	Owner         string
	Group         string
	Type          types.FileType
	SymlinkTarget string
	Remove        bool // true for a removal request; Hash/Type are ignored
}

// PlannedFile is one FileOp after classification, ready for the prepare
// phase.
type PlannedFile struct {
	FileOp
	Kind        PathKind
	PriorOwner  int64 // trove id that currently owns Path, 0 if none
	PriorHash   types.Hash
	PriorExists bool
}

// Plan is the classified result of planning one trove's file operations.
type Plan struct {
	Package    string
	Version    string
	IsUpgrade  bool
	OldVersion string
	Files      []PlannedFile
}

// Adds, Replaces and NoOps filter Plan.Files by kind, and Removals selects
// the removal requests, used by the later prepare/backup/stage phases
// which only care about their own subset.
func (p *Plan) Adds() []PlannedFile     { return p.filter(PathFreshAdd) }
func (p *Plan) Replaces() []PlannedFile { return p.filter(PathReplace) }
func (p *Plan) NoOps() []PlannedFile    { return p.filter(PathNoOp) }

func (p *Plan) Removals() []PlannedFile {
	var out []PlannedFile
	for _, f := range p.Files {
		if f.Remove {
			out = append(out, f)
		}
	}
	return out
}

func (p *Plan) filter(kind PathKind) []PlannedFile {
	var out []PlannedFile
	for _, f := range p.Files {
		if !f.Remove && f.Kind == kind {
			out = append(out, f)
		}
	}
	return out
}

// PlanOperations classifies ops against the database's current file
// ownership within tx. Package/version identify the trove requesting
// these paths: a path already owned by a trove named pkg is classified as
// a replace or no-op, one owned by any other trove as a cross-package
// conflict. Planning works by name, since it happens before the trove row
// exists.
func PlanOperations(tx *sql.Tx, pkg, version string, ops []FileOp) (*Plan, error) {
	plan := &Plan{Package: pkg, Version: version}
	var conflicts []Conflict

	for _, op := range ops {
		if op.Remove {
			pf := PlannedFile{FileOp: op}
			if owner, err := db.FindFileOwner(tx, op.Path); err == nil {
				pf.PriorOwner = owner.TroveID
				pf.PriorHash = owner.Hash
				pf.PriorExists = true
			} else if !errors.Is(err, db.ErrNotFound) {
				return nil, err
			}
			plan.Files = append(plan.Files, pf)
			continue
		}

		owner, err := db.FindFileOwner(tx, op.Path)
		switch {
		case errors.Is(err, db.ErrNotFound):
			plan.Files = append(plan.Files, PlannedFile{FileOp: op, Kind: PathFreshAdd})
		case err != nil:
			return nil, err
		default:
			ownerTrove, err := db.GetTrove(tx, owner.TroveID)
			if err != nil {
				return nil, err
			}
			if ownerTrove.Name == pkg {
				if owner.Hash == op.Hash {
					plan.Files = append(plan.Files, PlannedFile{
						FileOp: op, Kind: PathNoOp, PriorOwner: owner.TroveID,
						PriorHash: owner.Hash, PriorExists: true,
					})
				} else {
					plan.Files = append(plan.Files, PlannedFile{
						FileOp: op, Kind: PathReplace, PriorOwner: owner.TroveID,
						PriorHash: owner.Hash, PriorExists: true,
					})
				}
			} else {
				conflicts = append(conflicts, Conflict{
					Path: op.Path, Kind: ConflictCrossPackage,
					CurrentOwner: ownerTrove.Name, Requested: pkg,
				})
			}
		}
	}

	if len(conflicts) > 0 {
		return nil, &ConflictError{Conflicts: conflicts}
	}
	return plan, nil
}

// PlanBatch classifies operations for multiple packages installed within
// the same transaction, additionally catching the case where two
// packages in the batch claim the same path before either is committed
// to the database (spec §4.1: "A separate batch planner additionally
// detects cross-package conflicts within the batch itself").
func PlanBatch(tx *sql.Tx, requests map[string][]FileOp) (map[string]*Plan, error) {
	claimed := make(map[string]string) // path -> package claiming it in this batch
	var conflicts []Conflict
	for pkg, ops := range requests {
		for _, op := range ops {
			if op.Remove {
				continue
			}
			if existing, ok := claimed[op.Path]; ok && existing != pkg {
				conflicts = append(conflicts, Conflict{
					Path: op.Path, Kind: ConflictWithinBatch,
					CurrentOwner: existing, Requested: pkg,
				})
				continue
			}
			claimed[op.Path] = pkg
		}
	}
	if len(conflicts) > 0 {
		return nil, &ConflictError{Conflicts: conflicts}
	}

	plans := make(map[string]*Plan, len(requests))
	for pkg, ops := range requests {
		plan, err := PlanOperations(tx, pkg, "", ops)
		if err != nil {
			return nil, err
		}
		plans[pkg] = plan
	}
	return plans, nil
}
