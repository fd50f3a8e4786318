package db

import "database/sql"

// SystemState is a point-in-time snapshot of every installed trove,
// created after every successfully applied changeset (spec §3/§4.6/§7).
type SystemState struct {
	ID           int64
	StateNumber  int64
	Summary      string
	CreatedAt    int64
	ChangesetID  int64
	IsActive     bool
	PackageCount int
}

// StateMember is one trove's identity as recorded in a SystemState
// snapshot. It is denormalized (name/version/arch rather than a trove_id
// foreign key) because the originating trove row may later be deleted.
type StateMember struct {
	StateID       int64
	TroveName     string
	TroveVersion  string
	Architecture  string
	InstallReason string
}

// InsertSystemState inserts a SystemState row within tx, returning the
// assigned id. Callers must assign StateNumber monotonically (spec §4.6:
// "system states are numbered monotonically, never reused").
func InsertSystemState(tx *sql.Tx, s SystemState) (int64, error) {
	res, err := tx.Exec(
		`INSERT INTO system_states (state_number, summary, created_at, changeset_id, is_active, package_count)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		s.StateNumber, s.Summary, s.CreatedAt, s.ChangesetID, boolToInt(s.IsActive), s.PackageCount,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// InsertStateMember inserts one StateMember row within tx.
func InsertStateMember(tx *sql.Tx, m StateMember) error {
	_, err := tx.Exec(
		`INSERT INTO state_members (state_id, trove_name, trove_version, architecture, install_reason)
		 VALUES (?, ?, ?, ?, ?)`,
		m.StateID, m.TroveName, m.TroveVersion, m.Architecture, m.InstallReason,
	)
	return err
}

// NextStateNumber returns one past the highest StateNumber recorded so
// far, or 1 if no states exist.
func NextStateNumber(tx *sql.Tx) (int64, error) {
	var max sql.NullInt64
	if err := tx.QueryRow(`SELECT MAX(state_number) FROM system_states`).Scan(&max); err != nil {
		return 0, err
	}
	if !max.Valid {
		return 1, nil
	}
	return max.Int64 + 1, nil
}

// GetActiveSystemState returns the SystemState currently marked active,
// i.e. the state the filesystem and database currently reflect.
func GetActiveSystemState(tx *sql.Tx) (SystemState, error) {
	row := tx.QueryRow(
		`SELECT id, state_number, summary, created_at, changeset_id, is_active, package_count
		 FROM system_states WHERE is_active = 1`)
	return scanSystemState(row)
}

// GetSystemStateByNumber returns the SystemState with the given number.
func GetSystemStateByNumber(tx *sql.Tx, number int64) (SystemState, error) {
	row := tx.QueryRow(
		`SELECT id, state_number, summary, created_at, changeset_id, is_active, package_count
		 FROM system_states WHERE state_number = ?`, number)
	return scanSystemState(row)
}

// ListSystemStates returns every SystemState ordered newest-first.
func ListSystemStates(tx *sql.Tx) ([]SystemState, error) {
	rows, err := tx.Query(
		`SELECT id, state_number, summary, created_at, changeset_id, is_active, package_count
		 FROM system_states ORDER BY state_number DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SystemState
	for rows.Next() {
		var s SystemState
		var active int
		if err := rows.Scan(&s.ID, &s.StateNumber, &s.Summary, &s.CreatedAt, &s.ChangesetID, &active, &s.PackageCount); err != nil {
			return nil, err
		}
		s.IsActive = active != 0
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListStateMembers returns every StateMember belonging to stateID.
func ListStateMembers(tx *sql.Tx, stateID int64) ([]StateMember, error) {
	rows, err := tx.Query(
		`SELECT state_id, trove_name, trove_version, architecture, install_reason
		 FROM state_members WHERE state_id = ?`, stateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StateMember
	for rows.Next() {
		var m StateMember
		if err := rows.Scan(&m.StateID, &m.TroveName, &m.TroveVersion, &m.Architecture, &m.InstallReason); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SetActiveSystemState clears the previous active flag and marks stateID
// as the active snapshot. Used both when a new state is created and when
// a restore rolls the system back to an older state.
func SetActiveSystemState(tx *sql.Tx, stateID int64) error {
	if _, err := tx.Exec(`UPDATE system_states SET is_active = 0 WHERE is_active = 1`); err != nil {
		return err
	}
	_, err := tx.Exec(`UPDATE system_states SET is_active = 1 WHERE id = ?`, stateID)
	return err
}

// DeleteSystemState removes a SystemState and its members, used by
// pruning (spec §4.6: "never prune the active state").
func DeleteSystemState(tx *sql.Tx, stateID int64) error {
	if _, err := tx.Exec(`DELETE FROM state_members WHERE state_id = ?`, stateID); err != nil {
		return err
	}
	_, err := tx.Exec(`DELETE FROM system_states WHERE id = ?`, stateID)
	return err
}

func scanSystemState(row *sql.Row) (SystemState, error) {
	var s SystemState
	var active int
	err := row.Scan(&s.ID, &s.StateNumber, &s.Summary, &s.CreatedAt, &s.ChangesetID, &active, &s.PackageCount)
	if err == sql.ErrNoRows {
		return SystemState{}, ErrNotFound
	}
	if err != nil {
		return SystemState{}, err
	}
	s.IsActive = active != 0
	return s, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
