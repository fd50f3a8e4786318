package txn

import (
	"database/sql"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/conarylabs/conary/build"
	"github.com/conarylabs/conary/db"
	"github.com/conarylabs/conary/journal"
	"github.com/conarylabs/conary/types"
)

// TxnHandle drives one transaction through the one-way state machine
// described in spec §4.1. Every phase method must be called in order;
// Abort unwinds whatever has been done so far back to the pre-transaction
// state, and is only valid before the database commit barrier.
type TxnHandle struct {
	engine      *Engine
	state       types.TransactionState
	txUUID      string
	description string

	workDir   string
	backupDir string
	stageDir  string
	jw        *journal.Writer

	plan *Plan

	backups []journal.Backup
	stages  []journal.Stage

	filesAdded  int
	replaced    int
	removedCnt  int
	dirsCreated int

	changesetID int64
	troveID     int64
	warnings    []string

	startedAt time.Time
}

// Begin opens a new transaction: creates its journal and work directory
// and writes the fsynced Begin barrier.
func (e *Engine) Begin(description string) (*TxnHandle, error) {
	txUUID := e.deps.RandomUUID()
	workDir := filepath.Join(e.workRoot, txUUID)
	backupDir := filepath.Join(workDir, "backup")
	stageDir := filepath.Join(workDir, "stage")
	for _, d := range []string{backupDir, stageDir} {
		if err := e.deps.MkdirAll(d, 0755); err != nil {
			return nil, build.ExtendErr("unable to create transaction work directory", err)
		}
	}

	journalPath := filepath.Join(e.journalDir, "tx-"+txUUID+".journal")
	jw, err := journal.Create(journalPath)
	if err != nil {
		return nil, err
	}

	h := &TxnHandle{
		engine: e, state: types.TxStateNew, txUUID: txUUID, description: description,
		workDir: workDir, backupDir: backupDir, stageDir: stageDir, jw: jw,
		startedAt: time.Now(),
	}

	begin, err := journal.NewRecord(journal.KindBegin, journal.Begin{
		TxUUID: txUUID, Root: e.root, Description: description, Timestamp: h.startedAt.Unix(),
	})
	if err != nil {
		return nil, err
	}
	if err := jw.WriteBarrier(begin); err != nil {
		return nil, err
	}
	e.logf("tx %s: begin %q", txUUID, description)
	return h, nil
}

// TxUUID returns the transaction's opaque identifier.
func (h *TxnHandle) TxUUID() string { return h.txUUID }

// State returns the handle's current position in the state machine.
func (h *TxnHandle) State() types.TransactionState { return h.state }

// PlanOperations classifies ops for package/version against the current
// database contents and records the Plan barrier. On a ConflictError, the
// transaction has made no filesystem or database changes and the caller
// should Abort.
func (h *TxnHandle) PlanOperations(pkg, version string, isUpgrade bool, oldVersion string, ops []FileOp) error {
	var plan *Plan
	err := h.engine.db.View(func(tx *sql.Tx) error {
		p, err := PlanOperations(tx, pkg, version, ops)
		if err != nil {
			return err
		}
		plan = p
		return nil
	})
	if err != nil {
		return err
	}
	plan.IsUpgrade = isUpgrade
	plan.OldVersion = oldVersion
	h.plan = plan

	kinds := make([]string, 0, len(ops))
	for _, op := range ops {
		switch {
		case op.Remove:
			kinds = append(kinds, "remove:"+op.Path)
		default:
			kinds = append(kinds, "add-or-replace:"+op.Path)
		}
	}
	rec, err := journal.NewRecord(journal.KindPlan, journal.Plan{
		Operations: kinds, Package: pkg, Version: version, IsUpgrade: isUpgrade, OldVersion: oldVersion,
	})
	if err != nil {
		return err
	}
	if err := h.jw.WriteBarrier(rec); err != nil {
		return err
	}
	h.state = types.TxStatePlanned
	return nil
}

// Prepare streams every new content hash required by the plan into the
// CAS and records its file_contents row. contents supplies the raw bytes
// for any hash not already present in the CAS; a hash the plan needs but
// that is both absent from the CAS and absent from contents is an error.
func (h *TxnHandle) Prepare(contents map[types.Hash][]byte) error {
	if h.plan == nil {
		return build.ExtendErr("prepare called before plan", os.ErrInvalid)
	}
	var filesInCAS int64
	var totalBytes int64

	needed := append(append([]PlannedFile{}, h.plan.Adds()...), h.plan.Replaces()...)
	sizes := make(map[types.Hash]int64, len(needed))
	for _, pf := range needed {
		if pf.Type != types.FileTypeRegular && pf.Type != types.FileTypeSymlink {
			continue
		}
		if h.engine.cas.Has(pf.Hash) {
			sizes[pf.Hash] = pf.Size
			continue
		}
		data, ok := contents[pf.Hash]
		if !ok {
			return build.ExtendErr("missing content for planned hash "+pf.Hash.String(), os.ErrInvalid)
		}
		stored, err := h.engine.cas.Store(data)
		if err != nil {
			return err
		}
		if stored != pf.Hash {
			return &IntegrityError{Expected: pf.Hash.String(), Actual: stored.String()}
		}
		filesInCAS++
		totalBytes += int64(len(data))
		sizes[pf.Hash] = int64(len(data))
	}

	if len(sizes) > 0 {
		if err := h.engine.db.Update(func(tx *sql.Tx) error {
			for hash, size := range sizes {
				fc := dbFileContent{Hash: hash, ContentPath: hash.ShardPath(), Size: size}
				if err := insertFileContentRow(tx, fc); err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
			return err
		}
	}

	rec, err := journal.NewRecord(journal.KindPrepared, journal.Prepared{FilesInCAS: filesInCAS, TotalBytes: totalBytes})
	if err != nil {
		return err
	}
	if err := h.jw.WriteBarrier(rec); err != nil {
		return err
	}
	h.state = types.TxStatePrepared
	return nil
}

// MarkPreScriptsComplete records the outcome of pre-install/pre-remove
// scriptlet execution, which the caller runs itself (the engine owns
// filesystem/database atomicity, not scriptlet interpretation).
func (h *TxnHandle) MarkPreScriptsComplete(exitCode int, duration time.Duration) error {
	rec, err := journal.NewRecord(journal.KindPreScriptComplete, journal.PreScriptComplete{
		ExitCode: exitCode, DurationMs: duration.Milliseconds(),
	})
	if err != nil {
		return err
	}
	if err := h.jw.WriteBarrier(rec); err != nil {
		return err
	}
	h.state = types.TxStatePreScriptsComplete
	return nil
}

// BackupFiles moves every path being replaced or removed into the
// transaction's backup tree. Directories slated for removal are recorded
// but left in place until ApplyFilesystem (spec §4.1).
func (h *TxnHandle) BackupFiles() error {
	targets := append(append([]PlannedFile{}, h.plan.Replaces()...), h.plan.Removals()...)
	for _, pf := range targets {
		info, err := h.engine.deps.Lstat(pf.Path)
		if os.IsNotExist(err) {
			continue // nothing to back up
		}
		if err != nil {
			return build.ExtendErr("unable to stat "+pf.Path, err)
		}

		backupPath := filepath.Join(h.backupDir, relPath(pf.Path))
		rec := journal.Backup{
			Path: pf.Path, BackupPath: backupPath, OldMode: uint32(info.Mode().Perm()), OldSize: info.Size(),
		}
		if pf.PriorExists {
			rec.OldHash = pf.PriorHash.String()
		}

		switch {
		case info.Mode()&os.ModeSymlink != 0:
			target, err := os.Readlink(pf.Path)
			if err != nil {
				return build.ExtendErr("unable to read symlink "+pf.Path, err)
			}
			if err := h.engine.deps.MkdirAll(filepath.Dir(backupPath), 0755); err != nil {
				return err
			}
			if err := h.engine.deps.WriteFile(backupPath, []byte("SYMLINK:"+target), 0644); err != nil {
				return err
			}
			if err := h.engine.deps.Remove(pf.Path); err != nil {
				return build.ExtendErr("unable to remove symlink "+pf.Path, err)
			}
			rec.OldType = string(types.FileTypeSymlink)
		case info.IsDir():
			rec.OldType = string(types.FileTypeDirectory)
			// Recorded only; physically removed during apply.
		default:
			if err := h.engine.deps.MkdirAll(filepath.Dir(backupPath), 0755); err != nil {
				return err
			}
			if err := h.engine.deps.Rename(pf.Path, backupPath); err != nil {
				return build.ExtendErr("unable to back up "+pf.Path, err)
			}
			rec.OldType = string(types.FileTypeRegular)
		}

		h.backups = append(h.backups, rec)
		jrec, err := journal.NewRecord(journal.KindBackup, rec)
		if err != nil {
			return err
		}
		if err := h.jw.Write(jrec); err != nil {
			return err
		}
	}

	rec, err := journal.NewRecord(journal.KindBackupsComplete, journal.BackupsComplete{Count: len(h.backups)})
	if err != nil {
		return err
	}
	if err := h.jw.WriteBarrier(rec); err != nil {
		return err
	}
	h.state = types.TxStateBackedUp
	return nil
}

// StageFiles hardlinks (or symlinks) every new file from the CAS into the
// transaction's stage tree, so ApplyFilesystem becomes a pure rename.
func (h *TxnHandle) StageFiles() error {
	targets := append(append([]PlannedFile{}, h.plan.Adds()...), h.plan.Replaces()...)
	for _, pf := range targets {
		stagePath := filepath.Join(h.stageDir, relPath(pf.Path))
		if err := h.engine.deps.MkdirAll(filepath.Dir(stagePath), 0755); err != nil {
			return err
		}

		rec := journal.Stage{Path: pf.Path, StagePath: stagePath, NewHash: pf.Hash.String(), NewMode: pf.Mode, NewType: string(pf.Type)}
		switch pf.Type {
		case types.FileTypeSymlink:
			if err := h.engine.deps.Symlink(pf.SymlinkTarget, stagePath); err != nil {
				return build.ExtendErr("unable to stage symlink "+pf.Path, err)
			}
		default:
			if err := h.engine.deps.Link(h.engine.cas.Path(pf.Hash), stagePath); err != nil {
				return build.ExtendErr("unable to stage "+pf.Path, err)
			}
			if err := h.engine.deps.Chmod(stagePath, os.FileMode(pf.Mode)); err != nil {
				return build.ExtendErr("unable to chmod staged "+pf.Path, err)
			}
		}

		h.stages = append(h.stages, rec)
		jrec, err := journal.NewRecord(journal.KindStage, rec)
		if err != nil {
			return err
		}
		if err := h.jw.Write(jrec); err != nil {
			return err
		}
	}

	rec, err := journal.NewRecord(journal.KindStagingComplete, journal.StagingComplete{Count: len(h.stages)})
	if err != nil {
		return err
	}
	if err := h.jw.WriteBarrier(rec); err != nil {
		return err
	}
	h.state = types.TxStateStaged
	return nil
}

// ApplyFilesystem renames every staged file onto its final live path and
// physically removes directories slated for deletion, in shallow-to-deep
// then deep-to-shallow order respectively.
func (h *TxnHandle) ApplyFilesystem() error {
	dirSet := make(map[string]struct{})
	for _, pf := range append(append([]PlannedFile{}, h.plan.Adds()...), h.plan.Replaces()...) {
		dirSet[filepath.Dir(pf.Path)] = struct{}{}
	}
	dirs := make([]string, 0, len(dirSet))
	for d := range dirSet {
		dirs = append(dirs, d)
	}
	sort.Slice(dirs, func(i, j int) bool { return strings.Count(dirs[i], string(os.PathSeparator)) < strings.Count(dirs[j], string(os.PathSeparator)) })
	for _, d := range dirs {
		if _, err := h.engine.deps.Stat(d); os.IsNotExist(err) {
			if err := h.engine.deps.MkdirAll(d, 0755); err != nil {
				return build.ExtendErr("unable to create directory "+d, err)
			}
			h.dirsCreated++
		}
	}

	for _, pf := range h.plan.Adds() {
		stagePath := filepath.Join(h.stageDir, relPath(pf.Path))
		if err := h.engine.deps.Rename(stagePath, pf.Path); err != nil {
			return build.ExtendErr("unable to apply "+pf.Path, err)
		}
		h.filesAdded++
	}
	for _, pf := range h.plan.Replaces() {
		stagePath := filepath.Join(h.stageDir, relPath(pf.Path))
		if err := h.engine.deps.Rename(stagePath, pf.Path); err != nil {
			return build.ExtendErr("unable to apply "+pf.Path, err)
		}
		h.replaced++
	}

	// Deepest directories first so a parent isn't removed before its
	// now-empty children.
	removalDirs := make([]PlannedFile, 0)
	for _, pf := range h.plan.Removals() {
		if isDirBackup(h.backups, pf.Path) {
			removalDirs = append(removalDirs, pf)
			continue
		}
		h.removedCnt++
	}
	sort.Slice(removalDirs, func(i, j int) bool {
		return strings.Count(removalDirs[i].Path, string(os.PathSeparator)) > strings.Count(removalDirs[j].Path, string(os.PathSeparator))
	})
	for _, pf := range removalDirs {
		if err := h.engine.deps.Remove(pf.Path); err != nil && !os.IsNotExist(err) {
			return build.ExtendErr("unable to remove directory "+pf.Path, err)
		}
		h.removedCnt++
	}

	rec, err := journal.NewRecord(journal.KindFsApplied, journal.FsApplied{
		FilesAdded: h.filesAdded, Replaced: h.replaced, Removed: h.removedCnt, DirsCreated: h.dirsCreated,
	})
	if err != nil {
		return err
	}
	if err := h.jw.WriteBarrier(rec); err != nil {
		return err
	}
	h.state = types.TxStateFsApplied
	return nil
}

func isDirBackup(backups []journal.Backup, path string) bool {
	for _, b := range backups {
		if b.Path == path {
			return b.OldType == string(types.FileTypeDirectory)
		}
	}
	return false
}

// WriteDbCommitIntent fsyncs the critical-transition record. After this
// call returns, the database is the authority on whether this transaction
// actually committed; the caller must next run its own SQL transaction
// (creating the changesets row with tx_uuid set) and then call
// RecordDbCommit.
func (h *TxnHandle) WriteDbCommitIntent() error {
	rec, err := journal.NewRecord(journal.KindDbCommitIntent, journal.DbCommitIntent{TxUUID: h.txUUID})
	if err != nil {
		return err
	}
	return h.jw.WriteBarrier(rec)
}

// RecordDbCommit is called after the caller's own SQL transaction (which
// inserted the changesets row carrying this handle's tx_uuid) has
// committed successfully.
func (h *TxnHandle) RecordDbCommit(changesetID, troveID int64) error {
	h.changesetID = changesetID
	h.troveID = troveID
	rec, err := journal.NewRecord(journal.KindDbApplied, journal.DbApplied{ChangesetID: changesetID, TroveID: troveID})
	if err != nil {
		return err
	}
	if err := h.jw.WriteBarrier(rec); err != nil {
		return err
	}
	h.state = types.TxStateDbApplied
	return nil
}

// RunPostAction records the outcome of one post-commit action (scriptlet,
// systemd unit, tmpfiles rule, sysctl, or trigger). Failures are logged as
// warnings and never roll back the transaction, per spec §4.1.
func (h *TxnHandle) RunPostAction(actionType, name string, actionErr error) error {
	pa := journal.PostAction{ActionType: actionType, Name: name, Success: actionErr == nil}
	if actionErr != nil {
		pa.Error = actionErr.Error()
		h.warnings = append(h.warnings, actionType+" "+name+": "+actionErr.Error())
		h.engine.logWarn("tx %s: post-action %s %q failed: %v", h.txUUID, actionType, name, actionErr)
	}
	rec, err := journal.NewRecord(journal.KindPostAction, pa)
	if err != nil {
		return err
	}
	return h.jw.Write(rec)
}

// MarkPostScriptsComplete transitions the handle to its final pre-Done
// state once every post-action has been run (or skipped).
func (h *TxnHandle) MarkPostScriptsComplete() {
	h.state = types.TxStatePostScriptsComplete
}

// Finish closes out a successful transaction: writes the Done barrier,
// archives the journal, and removes the work directory.
func (h *TxnHandle) Finish() (Result, error) {
	rec, err := journal.NewRecord(journal.KindDone, journal.Done{
		DurationMs: time.Since(h.startedAt).Milliseconds(), Success: true,
	})
	if err != nil {
		return Result{}, err
	}
	if err := h.jw.WriteBarrier(rec); err != nil {
		return Result{}, err
	}
	h.state = types.TxStateDone
	if err := h.jw.Close(); err != nil {
		return Result{}, err
	}

	journalPath := filepath.Join(h.engine.journalDir, "tx-"+h.txUUID+".journal")
	archivePath := filepath.Join(h.engine.journalDir, "archive", "tx-"+h.txUUID+".journal")
	if err := os.Rename(journalPath, archivePath); err != nil {
		return Result{}, build.ExtendErr("unable to archive journal", err)
	}
	if err := h.engine.deps.RemoveAll(h.workDir); err != nil {
		h.engine.logWarn("tx %s: unable to clean up work directory: %v", h.txUUID, err)
	}

	return Result{
		TxUUID: h.txUUID, ChangesetID: h.changesetID, TroveID: h.troveID,
		FilesAdded: h.filesAdded, Replaced: h.replaced, Removed: h.removedCnt,
		DirsCreated: h.dirsCreated, Warnings: h.warnings,
	}, nil
}

// Abort unwinds a transaction that has not yet reached DbApplied,
// restoring the filesystem to its entry state (spec §4.1 Failure
// semantics). It is a programming error to call Abort after RecordDbCommit
// has succeeded.
func (h *TxnHandle) Abort(reason string) error {
	if !h.state.Before(types.TxStateDbApplied) {
		return build.ExtendErr("cannot abort transaction past DbApplied", os.ErrInvalid)
	}

	// Restore backups in reverse order: later moves must be undone first
	// in case of any path overlap within a single transaction.
	for i := len(h.backups) - 1; i >= 0; i-- {
		b := h.backups[i]
		switch b.OldType {
		case string(types.FileTypeRegular):
			h.engine.deps.MkdirAll(filepath.Dir(b.Path), 0755)
			h.engine.deps.Rename(b.BackupPath, b.Path)
		case string(types.FileTypeSymlink):
			data, err := h.engine.deps.ReadFile(b.BackupPath)
			if err == nil && strings.HasPrefix(string(data), "SYMLINK:") {
				h.engine.deps.Symlink(strings.TrimPrefix(string(data), "SYMLINK:"), b.Path)
			}
		case string(types.FileTypeDirectory):
			// Never physically removed before apply; nothing to restore.
		}
	}

	// Any file already renamed onto a live path during ApplyFilesystem
	// (reachable only if Abort is called after ApplyFilesystem but
	// before the database commits) must be removed again for fresh-adds,
	// since there is no prior content to restore.
	if h.plan != nil && h.state == types.TxStateFsApplied {
		for _, pf := range h.plan.Adds() {
			h.engine.deps.Remove(pf.Path)
		}
	}

	h.engine.deps.RemoveAll(h.workDir)
	h.jw.Close()
	journalPath := filepath.Join(h.engine.journalDir, "tx-"+h.txUUID+".journal")
	os.Remove(journalPath)

	h.state = types.TxStateAborted
	h.engine.logWarn("tx %s: aborted: %s", h.txUUID, reason)
	return nil
}

func relPath(path string) string {
	return strings.TrimPrefix(filepath.Clean(path), string(os.PathSeparator))
}

type dbFileContent = db.FileContent

func insertFileContentRow(tx *sql.Tx, fc dbFileContent) error {
	return db.InsertFileContentIfAbsent(tx, fc)
}
