// Package db implements the relational model layer of spec §3 and §6.2:
// troves, files, dependencies, provides, changesets, components,
// scriptlets, system-state snapshots, triggers, and federation peer
// bookkeeping, backed by SQLite through database/sql.
package db

import (
	"database/sql"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure-Go sqlite driver, registers as "sqlite"

	"github.com/conarylabs/conary/build"
)

// schema is applied in full on every Open call; every statement is
// idempotent (IF NOT EXISTS) so opening an already-initialized database is
// a cheap no-op, matching the style of the federation-index schema used
// elsewhere in the ecosystem for embedded SQLite stores.
const schema = `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS troves (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	version TEXT NOT NULL,
	arch TEXT NOT NULL,
	type TEXT NOT NULL,
	install_source TEXT NOT NULL,
	install_reason TEXT NOT NULL,
	changeset_id INTEGER NOT NULL REFERENCES changesets(id),
	selection_reason TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_troves_name_version_arch ON troves(name, version, arch);
CREATE INDEX IF NOT EXISTS idx_troves_changeset ON troves(changeset_id);

CREATE TABLE IF NOT EXISTS file_contents (
	sha256_hash TEXT PRIMARY KEY,
	content_path TEXT NOT NULL,
	size INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS files (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	path TEXT NOT NULL UNIQUE,
	sha256_hash TEXT NOT NULL REFERENCES file_contents(sha256_hash),
	size INTEGER NOT NULL,
	permissions INTEGER NOT NULL,
	owner TEXT NOT NULL,
	group_name TEXT NOT NULL,
	trove_id INTEGER NOT NULL REFERENCES troves(id),
	component_id INTEGER REFERENCES components(id),
	installed_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_files_trove ON files(trove_id);
CREATE INDEX IF NOT EXISTS idx_files_hash ON files(sha256_hash);

CREATE TABLE IF NOT EXISTS components (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	trove_id INTEGER NOT NULL REFERENCES troves(id),
	type TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS dependencies (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	trove_id INTEGER NOT NULL REFERENCES troves(id),
	capability TEXT NOT NULL,
	version_constraint TEXT NOT NULL DEFAULT '',
	type TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_dependencies_trove ON dependencies(trove_id);
CREATE INDEX IF NOT EXISTS idx_dependencies_capability ON dependencies(capability);

CREATE TABLE IF NOT EXISTS provides (
	trove_id INTEGER NOT NULL REFERENCES troves(id),
	capability TEXT NOT NULL,
	version TEXT NOT NULL DEFAULT '',
	kind TEXT NOT NULL,
	UNIQUE(trove_id, capability)
);
CREATE INDEX IF NOT EXISTS idx_provides_capability ON provides(capability);

CREATE TABLE IF NOT EXISTS changesets (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	tx_uuid TEXT NOT NULL UNIQUE,
	description TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS scriptlets (
	trove_id INTEGER NOT NULL REFERENCES troves(id),
	phase TEXT NOT NULL,
	interpreter TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL DEFAULT '',
	flags TEXT NOT NULL DEFAULT '',
	format TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_scriptlets_trove ON scriptlets(trove_id);

CREATE TABLE IF NOT EXISTS resolution_strategies (
	trove_id INTEGER NOT NULL REFERENCES troves(id),
	kind TEXT NOT NULL,
	payload TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS system_states (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	state_number INTEGER NOT NULL UNIQUE,
	summary TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	changeset_id INTEGER NOT NULL REFERENCES changesets(id),
	is_active INTEGER NOT NULL DEFAULT 0,
	package_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS state_members (
	state_id INTEGER NOT NULL REFERENCES system_states(id),
	trove_name TEXT NOT NULL,
	trove_version TEXT NOT NULL,
	architecture TEXT NOT NULL,
	install_reason TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_state_members_state ON state_members(state_id);

CREATE TABLE IF NOT EXISTS triggers (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	pattern TEXT NOT NULL,
	handler TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 0,
	enabled INTEGER NOT NULL DEFAULT 1,
	builtin INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS trigger_dependencies (
	trigger_id INTEGER NOT NULL REFERENCES triggers(id),
	depends_on INTEGER NOT NULL REFERENCES triggers(id)
);

CREATE TABLE IF NOT EXISTS changeset_triggers (
	changeset_id INTEGER NOT NULL REFERENCES changesets(id),
	trigger_id INTEGER NOT NULL REFERENCES triggers(id),
	status TEXT NOT NULL,
	matched_files INTEGER NOT NULL DEFAULT 0,
	started_at INTEGER,
	completed_at INTEGER,
	output TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS federation_peers (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	endpoint TEXT NOT NULL UNIQUE,
	node_name TEXT NOT NULL,
	tier TEXT NOT NULL,
	latency_ms REAL NOT NULL DEFAULT 0,
	success_count INTEGER NOT NULL DEFAULT 0,
	failure_count INTEGER NOT NULL DEFAULT 0,
	consecutive_failures INTEGER NOT NULL DEFAULT 0,
	is_enabled INTEGER NOT NULL DEFAULT 1,
	last_seen INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS federation_stats (
	date TEXT PRIMARY KEY,
	bytes_from_peers INTEGER NOT NULL DEFAULT 0,
	bytes_from_upstream INTEGER NOT NULL DEFAULT 0,
	chunks_from_peers INTEGER NOT NULL DEFAULT 0,
	chunks_from_upstream INTEGER NOT NULL DEFAULT 0,
	requests_coalesced INTEGER NOT NULL DEFAULT 0,
	circuit_breaker_trips INTEGER NOT NULL DEFAULT 0,
	peer_count INTEGER NOT NULL DEFAULT 0
);
`

// DB wraps a *sql.DB opened against the conary.db SQLite file described in
// spec §6.1.
type DB struct {
	sql *sql.DB
}

// Open opens (creating if necessary, along with its parent directory) the
// database at path and applies the schema.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, build.ExtendErr("unable to create database directory", err)
	}
	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, build.ExtendErr("unable to open database", err)
	}
	conn.SetMaxOpenConns(1) // spec §5: at most one write-transaction in flight
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, build.ExtendErr("unable to apply schema", err)
	}
	return &DB{sql: conn}, nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	return d.sql.Close()
}

// Update runs fn inside a single SQL transaction, committing on success and
// rolling back on any error (including a panic, which is re-raised after
// rollback). This is the "caller performs DB mutations in a single SQL
// transaction" step of the transaction engine's contract (spec §4.1).
func (d *DB) Update(fn func(*sql.Tx) error) (err error) {
	tx, err := d.sql.Begin()
	if err != nil {
		return build.ExtendErr("unable to begin transaction", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()
	if err = fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err = tx.Commit(); err != nil {
		return build.ExtendErr("unable to commit transaction", err)
	}
	return nil
}

// View runs fn inside a transaction that is always rolled back, so any
// writes fn makes are discarded. Open limits the pool to one connection,
// so a View waits for any in-flight Update or View to finish and holds
// off every other caller until fn returns; reads do not run concurrently
// with each other or with a writer.
func (d *DB) View(fn func(*sql.Tx) error) error {
	tx, err := d.sql.Begin()
	if err != nil {
		return build.ExtendErr("unable to begin read transaction", err)
	}
	defer tx.Rollback()
	return fn(tx)
}
