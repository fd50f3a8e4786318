package db

import "database/sql"

// Component is a named subset of a trove's files (e.g. "runtime", "devel",
// "doc"), the 3-EXT supplemental entity grounded on the original
// implementation's subpackage model.
type Component struct {
	ID          int64
	TroveID     int64
	Type        string
	Description string
}

// InsertComponent inserts a Component within tx.
func InsertComponent(tx *sql.Tx, c Component) (int64, error) {
	res, err := tx.Exec(
		`INSERT INTO components (trove_id, type, description) VALUES (?, ?, ?)`,
		c.TroveID, c.Type, c.Description,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListComponentsForTrove returns every Component declared by troveID.
func ListComponentsForTrove(tx *sql.Tx, troveID int64) ([]Component, error) {
	rows, err := tx.Query(`SELECT id, trove_id, type, description FROM components WHERE trove_id = ?`, troveID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Component
	for rows.Next() {
		var c Component
		if err := rows.Scan(&c.ID, &c.TroveID, &c.Type, &c.Description); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteComponentsForTrove removes every Component owned by troveID.
func DeleteComponentsForTrove(tx *sql.Tx, troveID int64) error {
	_, err := tx.Exec(`DELETE FROM components WHERE trove_id = ?`, troveID)
	return err
}
