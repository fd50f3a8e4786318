package txn

import (
	"database/sql"

	"github.com/conarylabs/conary/db"
)

// GCStats summarizes one CollectGarbage sweep.
type GCStats struct {
	ObjectsRemoved int
	BytesFreed     int64
}

// CollectGarbage walks file_contents for hashes with zero live references
// (no files row pointing at them), removes their on-disk CAS object, and
// deletes the row, in one pass. Per the Open Question decision recorded
// in SPEC_FULL.md, this is never invoked implicitly by a removal
// transaction — callers decide when long-running deployments need it run.
func (e *Engine) CollectGarbage() (GCStats, error) {
	var orphans []db.FileContent
	if err := e.db.View(func(tx *sql.Tx) error {
		var err error
		orphans, err = db.ListOrphanedContent(tx)
		return err
	}); err != nil {
		return GCStats{}, err
	}
	if len(orphans) == 0 {
		return GCStats{}, nil
	}

	var stats GCStats
	err := e.db.Update(func(tx *sql.Tx) error {
		for _, fc := range orphans {
			// Re-check under the write transaction: a concurrent
			// transaction between the View snapshot above and this
			// Update may have adopted the hash again.
			n, err := db.ContentRefCount(tx, fc.Hash)
			if err != nil {
				return err
			}
			if n > 0 {
				continue
			}
			if err := e.cas.Remove(fc.Hash); err != nil {
				return err
			}
			if err := db.DeleteFileContent(tx, fc.Hash); err != nil {
				return err
			}
			stats.ObjectsRemoved++
			stats.BytesFreed += fc.Size
		}
		return nil
	})
	if err != nil {
		return GCStats{}, err
	}
	return stats, nil
}
