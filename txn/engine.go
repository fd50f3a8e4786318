package txn

import (
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/conarylabs/conary/build"
	"github.com/conarylabs/conary/cas"
	"github.com/conarylabs/conary/db"
	"github.com/conarylabs/conary/persist"
)

// Engine owns the single-writer lock, the journal directory, and the
// shared CAS/database handles every TxnHandle operates against. One
// Engine exists per conary root directory (spec §6.1).
type Engine struct {
	root       string
	journalDir string
	workRoot   string

	lock *flock.Flock
	db   *db.DB
	cas  *cas.Store
	deps Dependencies
	log  *persist.Logger
}

// Open acquires the exclusive writer lock at <root>/lock, opens the
// database and CAS, runs crash recovery over any incomplete journals, and
// returns a ready Engine. It fails immediately if another writer already
// holds the lock (spec §5/§7: "Lock contention ... immediate, structured
// error").
func Open(root string, deps Dependencies, log *persist.Logger) (*Engine, error) {
	if deps == nil {
		deps = Production
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, build.ExtendErr("unable to create conary root", err)
	}

	lockPath := filepath.Join(root, "lock")
	lk := flock.New(lockPath)
	locked, err := lk.TryLock()
	if err != nil {
		return nil, build.ExtendErr("unable to acquire writer lock", err)
	}
	if !locked {
		return nil, &LockHeldError{LockPath: lockPath}
	}

	journalDir := filepath.Join(root, "journal")
	if err := os.MkdirAll(filepath.Join(journalDir, "archive"), 0755); err != nil {
		lk.Unlock()
		return nil, build.ExtendErr("unable to create journal directory", err)
	}
	workRoot := filepath.Join(root, "tx")
	if err := os.MkdirAll(workRoot, 0755); err != nil {
		lk.Unlock()
		return nil, build.ExtendErr("unable to create transaction work directory", err)
	}

	store, err := cas.New(root)
	if err != nil {
		lk.Unlock()
		return nil, err
	}
	database, err := db.Open(filepath.Join(root, "conary.db"))
	if err != nil {
		lk.Unlock()
		return nil, err
	}

	e := &Engine{
		root: root, journalDir: journalDir, workRoot: workRoot,
		lock: lk, db: database, cas: store, deps: deps, log: log,
	}

	if err := e.recover(); err != nil {
		database.Close()
		lk.Unlock()
		return nil, err
	}
	return e, nil
}

// Close releases the writer lock and closes the database handle. It does
// not affect any in-flight TxnHandle, which must already have reached a
// terminal state.
func (e *Engine) Close() error {
	e.db.Close()
	return e.lock.Unlock()
}

// DB exposes the shared database handle so callers can run their own
// View/Update queries (e.g. listing installed troves) without going
// through a transaction.
func (e *Engine) DB() *db.DB { return e.db }

// CAS exposes the shared content-addressed store.
func (e *Engine) CAS() *cas.Store { return e.cas }

func (e *Engine) logf(format string, args ...interface{}) {
	if e.log != nil {
		e.log.Info().Msgf(format, args...)
	}
}

func (e *Engine) logWarn(format string, args ...interface{}) {
	if e.log != nil {
		e.log.Warn().Msgf(format, args...)
	}
}
