package db

import (
	"database/sql"

	"github.com/conarylabs/conary/types"
)

// Changeset is the row created for every transaction (spec §3.1), keyed by
// the journal's tx_uuid so that crash recovery can correlate a recovered
// journal file with its database row.
type Changeset struct {
	ID          int64
	TxUUID      string
	Description string
	Status      types.ChangesetStatus
	CreatedAt   int64
}

// InsertChangeset inserts a Changeset within tx, returning the assigned
// id. Per the Open Question decision in SPEC_FULL.md, a changeset row is
// created even for an empty transaction (one that plans no operations).
func InsertChangeset(tx *sql.Tx, c Changeset) (int64, error) {
	res, err := tx.Exec(
		`INSERT INTO changesets (tx_uuid, description, status, created_at) VALUES (?, ?, ?, ?)`,
		c.TxUUID, c.Description, string(c.Status), c.CreatedAt,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetChangesetByTxUUID finds the Changeset row created for a given
// journal's tx_uuid, the lookup recovery uses to reconcile journal state
// with database state.
func GetChangesetByTxUUID(tx *sql.Tx, txUUID string) (Changeset, error) {
	row := tx.QueryRow(
		`SELECT id, tx_uuid, description, status, created_at FROM changesets WHERE tx_uuid = ?`, txUUID)
	return scanChangeset(row)
}

// GetChangeset returns the Changeset with the given id.
func GetChangeset(tx *sql.Tx, id int64) (Changeset, error) {
	row := tx.QueryRow(
		`SELECT id, tx_uuid, description, status, created_at FROM changesets WHERE id = ?`, id)
	return scanChangeset(row)
}

// UpdateChangesetStatus transitions a Changeset's recorded status.
func UpdateChangesetStatus(tx *sql.Tx, id int64, status types.ChangesetStatus) error {
	_, err := tx.Exec(`UPDATE changesets SET status = ? WHERE id = ?`, string(status), id)
	return err
}

// ListChangesets returns every Changeset ordered by creation time,
// newest first.
func ListChangesets(tx *sql.Tx) ([]Changeset, error) {
	rows, err := tx.Query(`SELECT id, tx_uuid, description, status, created_at FROM changesets ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Changeset
	for rows.Next() {
		c, err := scanChangesetRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanChangeset(row *sql.Row) (Changeset, error) {
	var c Changeset
	var status string
	err := row.Scan(&c.ID, &c.TxUUID, &c.Description, &status, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return Changeset{}, ErrNotFound
	}
	if err != nil {
		return Changeset{}, err
	}
	c.Status = types.ChangesetStatus(status)
	return c, nil
}

func scanChangesetRows(rows *sql.Rows) (Changeset, error) {
	var c Changeset
	var status string
	if err := rows.Scan(&c.ID, &c.TxUUID, &c.Description, &status, &c.CreatedAt); err != nil {
		return Changeset{}, err
	}
	c.Status = types.ChangesetStatus(status)
	return c, nil
}
