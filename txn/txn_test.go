package txn

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/conarylabs/conary/build"
	"github.com/conarylabs/conary/db"
	"github.com/conarylabs/conary/types"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	root := build.TempDir("txn", t.Name())
	e, err := Open(root, Production, nil)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

// installSimpleTrove runs a minimal end-to-end install transaction for one
// new regular file, returning the Result.
func installSimpleTrove(t *testing.T, e *Engine, name, version string, livePath string, content []byte) Result {
	t.Helper()
	h, err := e.Begin("install " + name)
	require.NoError(t, err)

	contentHash := types.HashBytes(content)
	ops := []FileOp{
		{Path: livePath, Hash: contentHash, Size: int64(len(content)), Mode: 0644, Type: types.FileTypeRegular},
	}
	require.NoError(t, h.PlanOperations(name, version, false, "", ops))
	require.NoError(t, h.Prepare(map[types.Hash][]byte{contentHash: content}))
	require.NoError(t, h.MarkPreScriptsComplete(0, time.Millisecond))
	require.NoError(t, h.BackupFiles())
	require.NoError(t, h.StageFiles())
	require.NoError(t, h.ApplyFilesystem())
	require.NoError(t, h.WriteDbCommitIntent())

	var changesetID, troveID int64
	err = e.DB().Update(func(tx *sql.Tx) error {
		csID, err := db.InsertChangeset(tx, db.Changeset{TxUUID: h.TxUUID(), Status: types.ChangesetStatusApplied, CreatedAt: 1})
		if err != nil {
			return err
		}
		troveID, err = db.InsertTrove(tx, db.Trove{
			Name: name, Version: version, Arch: "x86_64", Type: types.TroveTypePackage,
			InstallSource: types.InstallSourceRepository, InstallReason: types.InstallReasonExplicit,
			ChangesetID: csID,
		})
		if err != nil {
			return err
		}
		if err := db.InsertFileEntry(tx, db.FileEntry{Path: livePath, Hash: contentHash, Size: int64(len(content)), TroveID: troveID}); err != nil {
			return err
		}
		changesetID = csID
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, h.RecordDbCommit(changesetID, troveID))
	h.MarkPostScriptsComplete()
	result, err := h.Finish()
	require.NoError(t, err)
	return result
}

func TestInstallFreshAddEndToEnd(t *testing.T) {
	e := newTestEngine(t)
	liveDir := build.TempDir("txn-live", t.Name())
	livePath := filepath.Join(liveDir, "usr", "bin", "hello")

	result := installSimpleTrove(t, e, "hello", "1.0", livePath, []byte("hello world"))
	require.Equal(t, 1, result.FilesAdded)
	require.Equal(t, 0, result.Replaced)

	data, err := os.ReadFile(livePath)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(data))

	err = e.DB().View(func(tx *sql.Tx) error {
		owner, err := db.FindFileOwner(tx, livePath)
		require.NoError(t, err)
		require.Equal(t, result.TroveID, owner.TroveID)
		return nil
	})
	require.NoError(t, err)
}

func TestReplaceUpgradesContent(t *testing.T) {
	e := newTestEngine(t)
	liveDir := build.TempDir("txn-live", t.Name())
	livePath := filepath.Join(liveDir, "etc", "hello.conf")

	installSimpleTrove(t, e, "hello", "1.0", livePath, []byte("v1"))

	h, err := e.Begin("upgrade hello")
	require.NoError(t, err)
	newContent := []byte("v2-longer-content")
	newHash := types.HashBytes(newContent)
	ops := []FileOp{{Path: livePath, Hash: newHash, Size: int64(len(newContent)), Mode: 0644, Type: types.FileTypeRegular}}
	require.NoError(t, h.PlanOperations("hello", "2.0", true, "1.0", ops))
	require.Len(t, h.plan.Replaces(), 1)
	require.NoError(t, h.Prepare(map[types.Hash][]byte{newHash: newContent}))
	require.NoError(t, h.BackupFiles())
	require.NoError(t, h.StageFiles())
	require.NoError(t, h.ApplyFilesystem())

	data, err := os.ReadFile(livePath)
	require.NoError(t, err)
	require.Equal(t, "v2-longer-content", string(data))

	// Abort is no longer valid once FsApplied... but we haven't reached
	// DbApplied yet, so Abort here should still restore the old content.
	require.NoError(t, h.Abort("test rollback"))
	data, err = os.ReadFile(livePath)
	require.NoError(t, err)
	require.Equal(t, "v1", string(data))
}

func TestCrossPackageConflictAborts(t *testing.T) {
	e := newTestEngine(t)
	liveDir := build.TempDir("txn-live", t.Name())
	livePath := filepath.Join(liveDir, "usr", "bin", "shared")

	installSimpleTrove(t, e, "pkgA", "1.0", livePath, []byte("from A"))

	h, err := e.Begin("install pkgB")
	require.NoError(t, err)
	content := []byte("from B")
	hash := types.HashBytes(content)
	ops := []FileOp{{Path: livePath, Hash: hash, Size: int64(len(content)), Mode: 0644, Type: types.FileTypeRegular}}
	err = h.PlanOperations("pkgB", "1.0", false, "", ops)
	require.Error(t, err)
	var conflictErr *ConflictError
	require.ErrorAs(t, err, &conflictErr)
	require.Len(t, conflictErr.Conflicts, 1)
	require.Equal(t, "pkgA", conflictErr.Conflicts[0].CurrentOwner)

	require.NoError(t, h.Abort("conflict"))
}

func TestCollectGarbageRemovesOrphanedContent(t *testing.T) {
	e := newTestEngine(t)
	liveDir := build.TempDir("txn-live", t.Name())
	livePath := filepath.Join(liveDir, "usr", "share", "doc", "readme")

	installSimpleTrove(t, e, "docs", "1.0", livePath, []byte("documentation"))

	hash := types.HashBytes([]byte("documentation"))
	require.True(t, e.CAS().Has(hash))

	// Drop the owning file row so the content becomes orphaned.
	err := e.DB().Update(func(tx *sql.Tx) error {
		owner, err := db.FindFileOwner(tx, livePath)
		if err != nil {
			return err
		}
		return db.DeleteFileEntry(tx, owner.ID)
	})
	require.NoError(t, err)

	stats, err := e.CollectGarbage()
	require.NoError(t, err)
	require.Equal(t, 1, stats.ObjectsRemoved)
	require.False(t, e.CAS().Has(hash))
}

func TestLockPreventsSecondWriter(t *testing.T) {
	root := build.TempDir("txn-lock", t.Name())
	e1, err := Open(root, Production, nil)
	require.NoError(t, err)
	defer e1.Close()

	_, err = Open(root, Production, nil)
	require.Error(t, err)
	var lockErr *LockHeldError
	require.ErrorAs(t, err, &lockErr)
}
