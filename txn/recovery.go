package txn

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/conarylabs/conary/build"
	"github.com/conarylabs/conary/db"
	"github.com/conarylabs/conary/journal"
)

// recover scans <journal_dir>/tx-*.journal (archives excluded) and applies
// one of the four recovery outcomes from spec §4.3 to each incomplete
// transaction found. It runs once, synchronously, during Engine
// construction, before any new transaction can begin.
func (e *Engine) recover() error {
	entries, err := os.ReadDir(e.journalDir)
	if err != nil {
		return build.ExtendErr("unable to scan journal directory", err)
	}
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasPrefix(ent.Name(), "tx-") || !strings.HasSuffix(ent.Name(), ".journal") {
			continue
		}
		path := filepath.Join(e.journalDir, ent.Name())
		txUUID := strings.TrimSuffix(strings.TrimPrefix(ent.Name(), "tx-"), ".journal")
		if err := e.recoverOne(path, txUUID); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) recoverOne(path, txUUID string) error {
	records, err := journal.ReadAll(path)
	if err != nil {
		return err
	}
	last, ok := journal.LastBarrier(records)
	if !ok {
		// No barrier at all (not even Begin survived the CRC check): the
		// journal never reached a known state. Treat it like an early
		// rollback - there is nothing to undo since Begin itself is
		// unconfirmed.
		e.logWarn("tx %s: journal has no valid barrier, discarding", txUUID)
		return e.cleanupAndDeleteJournal(path, txUUID)
	}

	switch last.Kind {
	case journal.KindFsApplied:
		return e.recoverConsultDB(path, txUUID, records)
	case journal.KindDbApplied:
		return e.recoverRollForward(path, txUUID, true)
	case journal.KindDone:
		return e.archiveJournal(path, txUUID)
	default:
		// New/Planned/Prepared/PreScriptsComplete/BackedUp/Staged: roll
		// back everything journaled so far.
		return e.rollBack(path, txUUID, records)
	}
}

// recoverConsultDB handles the FsApplied case: the filesystem mutation is
// durable, but whether the database transaction committed is ambiguous
// without checking it directly.
func (e *Engine) recoverConsultDB(path, txUUID string, records []journal.Record) error {
	var found bool
	err := e.db.View(func(tx *sql.Tx) error {
		_, err := db.GetChangesetByTxUUID(tx, txUUID)
		if errors.Is(err, db.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return err
	}
	if found {
		return e.recoverRollForward(path, txUUID, false)
	}
	return e.rollBack(path, txUUID, records)
}

// recoverRollForward cleans up a transaction whose filesystem and
// database mutations both completed. verifyChangeset additionally checks
// that the expected changeset row actually exists - required for the
// DbApplied/PostScriptsComplete case, where its absence indicates
// corruption the operator must resolve by hand (spec §4.3/§7: "do NOT
// guess intent").
func (e *Engine) recoverRollForward(path, txUUID string, verifyChangeset bool) error {
	if verifyChangeset {
		var found bool
		err := e.db.View(func(tx *sql.Tx) error {
			_, err := db.GetChangesetByTxUUID(tx, txUUID)
			if errors.Is(err, db.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			found = true
			return nil
		})
		if err != nil {
			return err
		}
		if !found {
			return &CorruptionError{TxUUID: txUUID, Reason: "DbApplied journal barrier found but no matching changeset row exists"}
		}
	}
	workDir := filepath.Join(e.workRoot, txUUID)
	if err := os.RemoveAll(workDir); err != nil && !os.IsNotExist(err) {
		e.logWarn("tx %s: unable to remove work directory during roll-forward: %v", txUUID, err)
	}
	e.logf("tx %s: rolled forward", txUUID)
	return e.archiveJournal(path, txUUID)
}

// rollBack undoes a transaction that never durably committed: backups are
// restored in reverse order, files with no Backup record are treated as
// newly created and deleted, and the work directory and journal are
// removed.
func (e *Engine) rollBack(path, txUUID string, records []journal.Record) error {
	var backups []journal.Backup
	var stages []journal.Stage
	for _, r := range records {
		switch r.Kind {
		case journal.KindBackup:
			var b journal.Backup
			if err := r.Decode(&b); err == nil {
				backups = append(backups, b)
			}
		case journal.KindStage:
			var s journal.Stage
			if err := r.Decode(&s); err == nil {
				stages = append(stages, s)
			}
		}
	}

	for i := len(backups) - 1; i >= 0; i-- {
		b := backups[i]
		switch b.OldType {
		case "regular":
			os.MkdirAll(filepath.Dir(b.Path), 0755)
			if err := os.Rename(b.BackupPath, b.Path); err != nil && !os.IsNotExist(err) {
				e.logWarn("tx %s: unable to restore backup for %s: %v", txUUID, b.Path, err)
			}
		case "symlink":
			data, err := os.ReadFile(b.BackupPath)
			if err == nil && strings.HasPrefix(string(data), "SYMLINK:") {
				os.Symlink(strings.TrimPrefix(string(data), "SYMLINK:"), b.Path)
			}
		case "directory":
			// Never physically removed before apply; nothing to restore.
		}
	}

	// Any live path that reached FsApplied without a Backup record was a
	// fresh add; if apply actually ran, remove it again.
	backedUp := make(map[string]bool, len(backups))
	for _, b := range backups {
		backedUp[b.Path] = true
	}
	for _, s := range stages {
		if !backedUp[s.Path] {
			os.Remove(s.Path)
		}
	}

	e.logf("tx %s: rolled back", txUUID)
	return e.cleanupAndDeleteJournal(path, txUUID)
}

func (e *Engine) cleanupAndDeleteJournal(path, txUUID string) error {
	workDir := filepath.Join(e.workRoot, txUUID)
	if err := os.RemoveAll(workDir); err != nil && !os.IsNotExist(err) {
		e.logWarn("tx %s: unable to remove work directory: %v", txUUID, err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return build.ExtendErr("unable to delete journal after rollback", err)
	}
	return nil
}

func (e *Engine) archiveJournal(path, txUUID string) error {
	dst := filepath.Join(e.journalDir, "archive", "tx-"+txUUID+".journal")
	if err := os.Rename(path, dst); err != nil {
		return build.ExtendErr("unable to archive journal", err)
	}
	return nil
}
