package snapshot

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/conarylabs/conary/build"
	"github.com/conarylabs/conary/db"
	"github.com/conarylabs/conary/types"
)

func openTestDB(t *testing.T) *db.DB {
	t.Helper()
	dir := build.TempDir("snapshot", t.Name())
	conn, err := db.Open(filepath.Join(dir, "conary.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func insertTrove(t *testing.T, conn *db.DB, name, version string) int64 {
	t.Helper()
	var id int64
	err := conn.Update(func(tx *sql.Tx) error {
		csID, err := db.InsertChangeset(tx, db.Changeset{TxUUID: name + "-" + version, Status: types.ChangesetStatusApplied, CreatedAt: 1})
		if err != nil {
			return err
		}
		id, err = db.InsertTrove(tx, db.Trove{
			Name: name, Version: version, Arch: "x86_64", Type: types.TroveTypePackage,
			InstallSource: types.InstallSourceRepository, InstallReason: types.InstallReasonExplicit,
			ChangesetID: csID,
		})
		return err
	})
	require.NoError(t, err)
	return id
}

func TestCreateSnapshotCapturesInstalledTroves(t *testing.T) {
	conn := openTestDB(t)
	insertTrove(t, conn, "nginx", "1.24.0")
	insertTrove(t, conn, "openssl", "3.0.0")

	eng := New(conn)
	state, err := eng.CreateSnapshot(1, "install nginx+openssl")
	require.NoError(t, err)
	require.Equal(t, int64(1), state.StateNumber)
	require.True(t, state.IsActive)
	require.Equal(t, 2, state.PackageCount)

	var members []db.StateMember
	err = conn.View(func(tx *sql.Tx) error {
		var err error
		members, err = db.ListStateMembers(tx, state.ID)
		return err
	})
	require.NoError(t, err)
	require.Len(t, members, 2)
}

func TestCreateSnapshotIncrementsStateNumberAndActive(t *testing.T) {
	conn := openTestDB(t)
	insertTrove(t, conn, "nginx", "1.24.0")
	eng := New(conn)

	s1, err := eng.CreateSnapshot(1, "first")
	require.NoError(t, err)
	require.Equal(t, int64(1), s1.StateNumber)

	insertTrove(t, conn, "curl", "8.0.0")
	s2, err := eng.CreateSnapshot(2, "second")
	require.NoError(t, err)
	require.Equal(t, int64(2), s2.StateNumber)

	var active db.SystemState
	err = conn.View(func(tx *sql.Tx) error {
		var err error
		active, err = db.GetActiveSystemState(tx)
		return err
	})
	require.NoError(t, err)
	require.Equal(t, s2.ID, active.ID)
}

func TestDiffStatesDetectsAddedRemovedUpgraded(t *testing.T) {
	conn := openTestDB(t)
	eng := New(conn)

	insertTrove(t, conn, "nginx", "1.24.0")
	insertTrove(t, conn, "curl", "8.0.0")
	s1, err := eng.CreateSnapshot(1, "base")
	require.NoError(t, err)

	// Simulate an upgrade + removal + addition by mutating the trove table
	// directly and re-snapshotting (a real caller would run a txn first).
	err = conn.Update(func(tx *sql.Tx) error {
		troves, err := db.ListAllTroves(tx)
		if err != nil {
			return err
		}
		for _, tr := range troves {
			if tr.Name == "curl" {
				if err := db.DeleteTrove(tx, tr.ID); err != nil {
					return err
				}
			}
			if tr.Name == "nginx" {
				if err := db.DeleteTrove(tx, tr.ID); err != nil {
					return err
				}
				csID, err := db.InsertChangeset(tx, db.Changeset{TxUUID: "nginx-upgrade", Status: types.ChangesetStatusApplied, CreatedAt: 2})
				if err != nil {
					return err
				}
				if _, err := db.InsertTrove(tx, db.Trove{
					Name: "nginx", Version: "1.26.0", Arch: "x86_64", Type: types.TroveTypePackage,
					InstallSource: types.InstallSourceRepository, InstallReason: types.InstallReasonExplicit,
					ChangesetID: csID,
				}); err != nil {
					return err
				}
			}
		}
		csID, err := db.InsertChangeset(tx, db.Changeset{TxUUID: "add-zlib", Status: types.ChangesetStatusApplied, CreatedAt: 3})
		if err != nil {
			return err
		}
		_, err = db.InsertTrove(tx, db.Trove{
			Name: "zlib", Version: "1.3", Arch: "x86_64", Type: types.TroveTypePackage,
			InstallSource: types.InstallSourceRepository, InstallReason: types.InstallReasonExplicit,
			ChangesetID: csID,
		})
		return err
	})
	require.NoError(t, err)

	s2, err := eng.CreateSnapshot(2, "post-upgrade")
	require.NoError(t, err)

	diff, err := eng.DiffStates(s1.StateNumber, s2.StateNumber)
	require.NoError(t, err)
	require.Len(t, diff.Added, 1)
	require.Equal(t, "zlib", diff.Added[0].TroveName)
	require.Len(t, diff.Removed, 1)
	require.Equal(t, "curl", diff.Removed[0].TroveName)
	require.Len(t, diff.Upgraded, 1)
	require.Equal(t, "nginx", diff.Upgraded[0].Name)
	require.Equal(t, "1.24.0", diff.Upgraded[0].Old)
	require.Equal(t, "1.26.0", diff.Upgraded[0].New)
}

func TestPruneNeverDeletesActive(t *testing.T) {
	conn := openTestDB(t)
	eng := New(conn)
	for i := 0; i < 5; i++ {
		insertTrove(t, conn, "pkg", fmt.Sprintf("1.%d", i))
		_, err := eng.CreateSnapshot(int64(i+1), "step")
		require.NoError(t, err)
	}

	deleted, err := eng.Prune(2)
	require.NoError(t, err)
	require.Len(t, deleted, 3)

	var states []db.SystemState
	err = conn.View(func(tx *sql.Tx) error {
		var err error
		states, err = db.ListSystemStates(tx)
		return err
	})
	require.NoError(t, err)
	require.Len(t, states, 2)
	for _, s := range states {
		require.GreaterOrEqual(t, s.StateNumber, int64(4))
	}
}
