package db

import "database/sql"

// Scriptlet is a pre/post-install or pre/post-erase hook embedded in a
// trove (spec §3-EXT), grounded on the original implementation's scriptlet
// model. Phase is one of "preinstall", "postinstall", "preerase",
// "posterase", "pretrans", "posttrans".
type Scriptlet struct {
	TroveID     int64
	Phase       string
	Interpreter string
	Content     string
	Flags       string
	Format      string
}

// InsertScriptlet inserts a Scriptlet within tx.
func InsertScriptlet(tx *sql.Tx, s Scriptlet) error {
	_, err := tx.Exec(
		`INSERT INTO scriptlets (trove_id, phase, interpreter, content, flags, format) VALUES (?, ?, ?, ?, ?, ?)`,
		s.TroveID, s.Phase, s.Interpreter, s.Content, s.Flags, s.Format,
	)
	return err
}

// ListScriptletsForTrove returns every Scriptlet declared by troveID.
func ListScriptletsForTrove(tx *sql.Tx, troveID int64) ([]Scriptlet, error) {
	rows, err := tx.Query(
		`SELECT trove_id, phase, interpreter, content, flags, format FROM scriptlets WHERE trove_id = ?`, troveID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Scriptlet
	for rows.Next() {
		var s Scriptlet
		if err := rows.Scan(&s.TroveID, &s.Phase, &s.Interpreter, &s.Content, &s.Flags, &s.Format); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListScriptletsForPhase returns every Scriptlet across all troves matching
// phase, used by the engine to run, e.g., every "posttrans" scriptlet for a
// transaction in trove-insertion order.
func ListScriptletsForPhase(tx *sql.Tx, phase string) ([]Scriptlet, error) {
	rows, err := tx.Query(
		`SELECT trove_id, phase, interpreter, content, flags, format FROM scriptlets WHERE phase = ? ORDER BY trove_id`, phase)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Scriptlet
	for rows.Next() {
		var s Scriptlet
		if err := rows.Scan(&s.TroveID, &s.Phase, &s.Interpreter, &s.Content, &s.Flags, &s.Format); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeleteScriptletsForTrove removes every Scriptlet owned by troveID.
func DeleteScriptletsForTrove(tx *sql.Tx, troveID int64) error {
	_, err := tx.Exec(`DELETE FROM scriptlets WHERE trove_id = ?`, troveID)
	return err
}
