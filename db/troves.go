package db

import (
	"database/sql"
	"errors"

	"github.com/conarylabs/conary/types"
)

// Trove is an installed package instance (spec §3.1).
type Trove struct {
	ID              int64
	Name            string
	Version         string
	Arch            string
	Type            types.TroveType
	InstallSource   types.InstallSource
	InstallReason   types.InstallReason
	ChangesetID     int64
	SelectionReason string
	Description     string
}

// ErrNotFound is returned by Get-style lookups that find no matching row.
var ErrNotFound = errors.New("db: no matching row")

// InsertTrove inserts trove within tx, returning the assigned id. trove.ID
// is ignored; trove.ChangesetID must already identify a valid changeset row.
func InsertTrove(tx *sql.Tx, trove Trove) (int64, error) {
	res, err := tx.Exec(
		`INSERT INTO troves (name, version, arch, type, install_source, install_reason, changeset_id, selection_reason, description)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		trove.Name, trove.Version, trove.Arch, string(trove.Type),
		string(trove.InstallSource), string(trove.InstallReason),
		trove.ChangesetID, trove.SelectionReason, trove.Description,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetTrove returns the trove with the given id.
func GetTrove(tx *sql.Tx, id int64) (Trove, error) {
	row := tx.QueryRow(
		`SELECT id, name, version, arch, type, install_source, install_reason, changeset_id, selection_reason, description
		 FROM troves WHERE id = ?`, id)
	return scanTrove(row)
}

// FindTrove returns the trove matching (name, version, arch), the
// attributes spec §3.1 calls out as jointly distinguishing a version.
func FindTrove(tx *sql.Tx, name, version, arch string) (Trove, error) {
	row := tx.QueryRow(
		`SELECT id, name, version, arch, type, install_source, install_reason, changeset_id, selection_reason, description
		 FROM troves WHERE name = ? AND version = ? AND arch = ?`, name, version, arch)
	return scanTrove(row)
}

// ListTrovesByName returns every installed version of name, useful for
// upgrade/conflict planning.
func ListTrovesByName(tx *sql.Tx, name string) ([]Trove, error) {
	rows, err := tx.Query(
		`SELECT id, name, version, arch, type, install_source, install_reason, changeset_id, selection_reason, description
		 FROM troves WHERE name = ?`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Trove
	for rows.Next() {
		t, err := scanTroveRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListAllTroves returns every currently-installed trove, used to build
// SystemState snapshots.
func ListAllTroves(tx *sql.Tx) ([]Trove, error) {
	rows, err := tx.Query(
		`SELECT id, name, version, arch, type, install_source, install_reason, changeset_id, selection_reason, description
		 FROM troves`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Trove
	for rows.Next() {
		t, err := scanTroveRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteTrove removes the trove row. Callers must first remove its
// FileEntry/dependency/provide rows (the removal transaction orchestrates
// this ordering), matching the "destroyed by removal transaction"
// lifecycle from spec §3.1.
func DeleteTrove(tx *sql.Tx, id int64) error {
	_, err := tx.Exec(`DELETE FROM troves WHERE id = ?`, id)
	return err
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanTrove(row *sql.Row) (Trove, error) {
	return scanTroveGeneric(row)
}

func scanTroveRows(rows *sql.Rows) (Trove, error) {
	return scanTroveGeneric(rows)
}

func scanTroveGeneric(s scannable) (Trove, error) {
	var t Trove
	var typ, src, reason string
	err := s.Scan(&t.ID, &t.Name, &t.Version, &t.Arch, &typ, &src, &reason,
		&t.ChangesetID, &t.SelectionReason, &t.Description)
	if err == sql.ErrNoRows {
		return Trove{}, ErrNotFound
	}
	if err != nil {
		return Trove{}, err
	}
	t.Type = types.TroveType(typ)
	t.InstallSource = types.InstallSource(src)
	t.InstallReason = types.InstallReason(reason)
	return t, nil
}
