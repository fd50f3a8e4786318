package db

import (
	"database/sql"

	"github.com/conarylabs/conary/types"
)

// FileEntry is a path owned by a trove (spec §3.1). Path is a key: only
// one trove may own a given path at a time, enforced by the UNIQUE
// constraint on files.path.
type FileEntry struct {
	ID          int64
	Path        string
	Hash        types.Hash
	Size        int64
	Permissions uint32
	Owner       string
	GroupName   string
	TroveID     int64
	ComponentID *int64
	InstalledAt int64
}

// FileContent is the CAS metadata row referenced by every FileEntry that
// shares its hash.
type FileContent struct {
	Hash        types.Hash
	ContentPath string
	Size        int64
}

// InsertFileContentIfAbsent records a CAS object's metadata. It is a no-op
// if the hash is already known, matching the engine's prepare-phase
// "INSERT OR IGNORE" idempotence requirement (spec §4.1).
func InsertFileContentIfAbsent(tx *sql.Tx, fc FileContent) error {
	_, err := tx.Exec(
		`INSERT OR IGNORE INTO file_contents (sha256_hash, content_path, size) VALUES (?, ?, ?)`,
		fc.Hash.String(), fc.ContentPath, fc.Size,
	)
	return err
}

// InsertFileEntry inserts a FileEntry within tx.
func InsertFileEntry(tx *sql.Tx, fe FileEntry) (int64, error) {
	res, err := tx.Exec(
		`INSERT INTO files (path, sha256_hash, size, permissions, owner, group_name, trove_id, component_id, installed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fe.Path, fe.Hash.String(), fe.Size, fe.Permissions, fe.Owner, fe.GroupName,
		fe.TroveID, fe.ComponentID, fe.InstalledAt,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// FindFileOwner returns the FileEntry currently owning path, if any.
// Callers use this during planning to classify each path as fresh-add,
// replace, or cross-package-conflict (spec §4.1 Planning).
func FindFileOwner(tx *sql.Tx, path string) (FileEntry, error) {
	row := tx.QueryRow(
		`SELECT id, path, sha256_hash, size, permissions, owner, group_name, trove_id, component_id, installed_at
		 FROM files WHERE path = ?`, path)
	return scanFileEntry(row)
}

// DeleteFileEntry removes a FileEntry row by id.
func DeleteFileEntry(tx *sql.Tx, id int64) error {
	_, err := tx.Exec(`DELETE FROM files WHERE id = ?`, id)
	return err
}

// DeleteFileEntriesForTrove removes every FileEntry owned by troveID, used
// when a trove is removed or replaced during an upgrade.
func DeleteFileEntriesForTrove(tx *sql.Tx, troveID int64) error {
	_, err := tx.Exec(`DELETE FROM files WHERE trove_id = ?`, troveID)
	return err
}

// ListFileEntriesForTrove returns every FileEntry owned by troveID.
func ListFileEntriesForTrove(tx *sql.Tx, troveID int64) ([]FileEntry, error) {
	rows, err := tx.Query(
		`SELECT id, path, sha256_hash, size, permissions, owner, group_name, trove_id, component_id, installed_at
		 FROM files WHERE trove_id = ?`, troveID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []FileEntry
	for rows.Next() {
		fe, err := scanFileEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, fe)
	}
	return out, rows.Err()
}

// ContentRefCount returns the number of live FileEntry rows referencing
// hash, used by CAS garbage collection to find orphaned objects.
func ContentRefCount(tx *sql.Tx, hash types.Hash) (int, error) {
	var n int
	err := tx.QueryRow(`SELECT COUNT(*) FROM files WHERE sha256_hash = ?`, hash.String()).Scan(&n)
	return n, err
}

// ListOrphanedContent returns every file_contents row with zero live
// FileEntry references, the input to the explicit CAS GC sweep decided in
// SPEC_FULL.md's Open Question section.
func ListOrphanedContent(tx *sql.Tx) ([]FileContent, error) {
	rows, err := tx.Query(
		`SELECT fc.sha256_hash, fc.content_path, fc.size
		 FROM file_contents fc
		 LEFT JOIN files f ON f.sha256_hash = fc.sha256_hash
		 WHERE f.id IS NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []FileContent
	for rows.Next() {
		var fc FileContent
		var hashStr string
		if err := rows.Scan(&hashStr, &fc.ContentPath, &fc.Size); err != nil {
			return nil, err
		}
		h, err := types.ParseHash(hashStr)
		if err != nil {
			return nil, err
		}
		fc.Hash = h
		out = append(out, fc)
	}
	return out, rows.Err()
}

// DeleteFileContent removes a file_contents row, used only after the
// corresponding on-disk CAS object has already been removed.
func DeleteFileContent(tx *sql.Tx, hash types.Hash) error {
	_, err := tx.Exec(`DELETE FROM file_contents WHERE sha256_hash = ?`, hash.String())
	return err
}

func scanFileEntry(s scannable) (FileEntry, error) {
	var fe FileEntry
	var hashStr string
	err := s.Scan(&fe.ID, &fe.Path, &hashStr, &fe.Size, &fe.Permissions,
		&fe.Owner, &fe.GroupName, &fe.TroveID, &fe.ComponentID, &fe.InstalledAt)
	if err == sql.ErrNoRows {
		return FileEntry{}, ErrNotFound
	}
	if err != nil {
		return FileEntry{}, err
	}
	h, err := types.ParseHash(hashStr)
	if err != nil {
		return FileEntry{}, err
	}
	fe.Hash = h
	return fe, nil
}
