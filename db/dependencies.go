package db

import (
	"database/sql"

	"github.com/conarylabs/conary/types"
)

// Dependency is a capability requirement declared by a trove (spec §3.1).
type Dependency struct {
	ID                int64
	TroveID           int64
	Capability        string
	VersionConstraint string
	Type              types.DependencyKind
}

// Provide is a capability a trove satisfies, matched against dependency
// rows during planning.
type Provide struct {
	TroveID    int64
	Capability string
	Version    string
	Kind       types.DependencyKind
}

// InsertDependency inserts a Dependency within tx.
func InsertDependency(tx *sql.Tx, d Dependency) (int64, error) {
	res, err := tx.Exec(
		`INSERT INTO dependencies (trove_id, capability, version_constraint, type) VALUES (?, ?, ?, ?)`,
		d.TroveID, d.Capability, d.VersionConstraint, string(d.Type),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListDependenciesForTrove returns every Dependency declared by troveID.
func ListDependenciesForTrove(tx *sql.Tx, troveID int64) ([]Dependency, error) {
	rows, err := tx.Query(
		`SELECT id, trove_id, capability, version_constraint, type FROM dependencies WHERE trove_id = ?`, troveID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Dependency
	for rows.Next() {
		var d Dependency
		var typ string
		if err := rows.Scan(&d.ID, &d.TroveID, &d.Capability, &d.VersionConstraint, &typ); err != nil {
			return nil, err
		}
		d.Type = types.DependencyKind(typ)
		out = append(out, d)
	}
	return out, rows.Err()
}

// FindProvidersOf returns every trove providing capability, the core
// dependency-resolution lookup used by the planner (spec §4.1).
func FindProvidersOf(tx *sql.Tx, capability string) ([]Provide, error) {
	rows, err := tx.Query(
		`SELECT trove_id, capability, version, kind FROM provides WHERE capability = ?`, capability)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Provide
	for rows.Next() {
		var p Provide
		var kind string
		if err := rows.Scan(&p.TroveID, &p.Capability, &p.Version, &kind); err != nil {
			return nil, err
		}
		p.Kind = types.DependencyKind(kind)
		out = append(out, p)
	}
	return out, rows.Err()
}

// InsertProvide inserts a Provide within tx. The (trove_id, capability)
// pair is unique: a trove only declares a given capability once.
func InsertProvide(tx *sql.Tx, p Provide) error {
	_, err := tx.Exec(
		`INSERT INTO provides (trove_id, capability, version, kind) VALUES (?, ?, ?, ?)`,
		p.TroveID, p.Capability, p.Version, string(p.Kind),
	)
	return err
}

// ListProvidesForTrove returns every Provide declared by troveID.
func ListProvidesForTrove(tx *sql.Tx, troveID int64) ([]Provide, error) {
	rows, err := tx.Query(
		`SELECT trove_id, capability, version, kind FROM provides WHERE trove_id = ?`, troveID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Provide
	for rows.Next() {
		var p Provide
		var kind string
		if err := rows.Scan(&p.TroveID, &p.Capability, &p.Version, &kind); err != nil {
			return nil, err
		}
		p.Kind = types.DependencyKind(kind)
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeleteDependenciesForTrove and DeleteProvidesForTrove remove all rows
// owned by troveID, used when a trove is removed.
func DeleteDependenciesForTrove(tx *sql.Tx, troveID int64) error {
	_, err := tx.Exec(`DELETE FROM dependencies WHERE trove_id = ?`, troveID)
	return err
}

func DeleteProvidesForTrove(tx *sql.Tx, troveID int64) error {
	_, err := tx.Exec(`DELETE FROM provides WHERE trove_id = ?`, troveID)
	return err
}

// CountDependentsOn returns the number of installed troves that declare a
// dependency on capability, used to block removal of a still-needed trove.
func CountDependentsOn(tx *sql.Tx, capability string) (int, error) {
	var n int
	err := tx.QueryRow(`SELECT COUNT(DISTINCT trove_id) FROM dependencies WHERE capability = ?`, capability).Scan(&n)
	return n, err
}
