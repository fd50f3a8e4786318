// Package snapshot implements the system-state snapshot/diff/restore
// engine of spec §4.9: every successful changeset freezes the complete
// installed-trove set as a new, monotonically numbered SystemState; any
// two states can be diffed into added/removed/upgraded sets; a diff
// against the active state becomes a restore plan; and old states are
// pruned down to the N newest, the active state always excluded.
package snapshot

import (
	"database/sql"
	"fmt"

	"github.com/conarylabs/conary/db"
)

// Engine creates, diffs, and prunes SystemState snapshots.
type Engine struct {
	conn *db.DB
}

// New returns an Engine backed by conn.
func New(conn *db.DB) *Engine {
	return &Engine{conn: conn}
}

// CreateSnapshot records a new SystemState reflecting every currently
// installed trove, attributes it to changesetID, marks it active, and
// returns the new state. It must be called within the same logical unit
// of work as the changeset commit (immediately after
// txn.TxnHandle.RecordDbCommit) so every changeset has exactly one
// corresponding state, per spec §4.9: "On every successful install/remove
// changeset, the snapshot engine creates a new SystemState."
func (e *Engine) CreateSnapshot(changesetID int64, summary string) (db.SystemState, error) {
	var state db.SystemState
	err := e.conn.Update(func(tx *sql.Tx) error {
		troves, err := db.ListAllTroves(tx)
		if err != nil {
			return err
		}
		number, err := db.NextStateNumber(tx)
		if err != nil {
			return err
		}
		stateID, err := db.InsertSystemState(tx, db.SystemState{
			StateNumber:  number,
			Summary:      summary,
			ChangesetID:  changesetID,
			IsActive:     true,
			PackageCount: len(troves),
		})
		if err != nil {
			return err
		}
		for _, t := range troves {
			if err := db.InsertStateMember(tx, db.StateMember{
				StateID:       stateID,
				TroveName:     t.Name,
				TroveVersion:  t.Version,
				Architecture:  t.Arch,
				InstallReason: string(t.InstallReason),
			}); err != nil {
				return err
			}
		}
		if err := db.SetActiveSystemState(tx, stateID); err != nil {
			return err
		}
		state, err = db.GetSystemStateByNumber(tx, number)
		return err
	})
	if err != nil {
		return db.SystemState{}, err
	}
	return state, nil
}

// Prune deletes the oldest SystemStates beyond the newest keepN, never
// deleting the active state even if it would otherwise fall outside the
// retained window (spec §4.9: "never prune the active one").
func (e *Engine) Prune(keepN int) (deleted []int64, err error) {
	if keepN < 0 {
		return nil, fmt.Errorf("keepN must be non-negative")
	}
	err = e.conn.Update(func(tx *sql.Tx) error {
		states, err := db.ListSystemStates(tx) // newest-first
		if err != nil {
			return err
		}
		for i, s := range states {
			if i < keepN || s.IsActive {
				continue
			}
			if err := db.DeleteSystemState(tx, s.ID); err != nil {
				return err
			}
			deleted = append(deleted, s.ID)
		}
		return nil
	})
	return deleted, err
}
