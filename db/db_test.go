package db

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/conarylabs/conary/build"
	"github.com/conarylabs/conary/types"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	dir := build.TempDir("db", t.Name())
	d, err := Open(filepath.Join(dir, "conary.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestTroveLifecycle(t *testing.T) {
	d := openTestDB(t)

	var troveID int64
	err := d.Update(func(tx *sql.Tx) error {
		csID, err := InsertChangeset(tx, Changeset{TxUUID: "tx-1", Status: types.ChangesetStatusApplied, CreatedAt: 1})
		if err != nil {
			return err
		}
		troveID, err = InsertTrove(tx, Trove{
			Name: "nginx", Version: "1.24.0", Arch: "x86_64",
			Type: types.TroveTypePackage, InstallSource: types.InstallSourceRepository,
			InstallReason: types.InstallReasonExplicit, ChangesetID: csID,
		})
		return err
	})
	require.NoError(t, err)
	require.NotZero(t, troveID)

	err = d.View(func(tx *sql.Tx) error {
		got, err := FindTrove(tx, "nginx", "1.24.0", "x86_64")
		require.NoError(t, err)
		require.Equal(t, troveID, got.ID)
		require.Equal(t, types.InstallReasonExplicit, got.InstallReason)
		return nil
	})
	require.NoError(t, err)
}

func TestFindTroveNotFound(t *testing.T) {
	d := openTestDB(t)
	err := d.View(func(tx *sql.Tx) error {
		_, err := FindTrove(tx, "missing", "1.0", "x86_64")
		return err
	})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFilesOwnershipAndOrphanDetection(t *testing.T) {
	d := openTestDB(t)
	h := types.HashBytes([]byte("hello world"))

	var troveID int64
	err := d.Update(func(tx *sql.Tx) error {
		csID, err := InsertChangeset(tx, Changeset{TxUUID: "tx-2", Status: types.ChangesetStatusApplied, CreatedAt: 1})
		if err != nil {
			return err
		}
		troveID, err = InsertTrove(tx, Trove{Name: "bash", Version: "5.2", Arch: "x86_64", ChangesetID: csID})
		if err != nil {
			return err
		}
		if err := InsertFileContentIfAbsent(tx, FileContent{Hash: h, ContentPath: h.ShardPath(), Size: 11}); err != nil {
			return err
		}
		// Idempotent: inserting the same content row twice must not error.
		if err := InsertFileContentIfAbsent(tx, FileContent{Hash: h, ContentPath: h.ShardPath(), Size: 11}); err != nil {
			return err
		}
		_, err = InsertFileEntry(tx, FileEntry{Path: "/bin/bash", Hash: h, Size: 11, TroveID: troveID})
		return err
	})
	require.NoError(t, err)

	err = d.View(func(tx *sql.Tx) error {
		owner, err := FindFileOwner(tx, "/bin/bash")
		require.NoError(t, err)
		require.Equal(t, troveID, owner.TroveID)

		orphans, err := ListOrphanedContent(tx)
		require.NoError(t, err)
		require.Empty(t, orphans)
		return nil
	})
	require.NoError(t, err)

	err = d.Update(func(tx *sql.Tx) error {
		return DeleteFileEntriesForTrove(tx, troveID)
	})
	require.NoError(t, err)

	err = d.View(func(tx *sql.Tx) error {
		orphans, err := ListOrphanedContent(tx)
		require.NoError(t, err)
		require.Len(t, orphans, 1)
		require.Equal(t, h, orphans[0].Hash)
		return nil
	})
	require.NoError(t, err)
}

func TestDependenciesAndProvides(t *testing.T) {
	d := openTestDB(t)
	err := d.Update(func(tx *sql.Tx) error {
		csID, err := InsertChangeset(tx, Changeset{TxUUID: "tx-3", Status: types.ChangesetStatusApplied, CreatedAt: 1})
		if err != nil {
			return err
		}
		libID, err := InsertTrove(tx, Trove{Name: "libssl", Version: "3.0", Arch: "x86_64", ChangesetID: csID})
		if err != nil {
			return err
		}
		appID, err := InsertTrove(tx, Trove{Name: "curl", Version: "8.0", Arch: "x86_64", ChangesetID: csID})
		if err != nil {
			return err
		}
		if err := InsertProvide(tx, Provide{TroveID: libID, Capability: "libssl.so.3", Kind: types.DependencyKindRuntime}); err != nil {
			return err
		}
		_, err = InsertDependency(tx, Dependency{TroveID: appID, Capability: "libssl.so.3", Type: types.DependencyKindRuntime})
		return err
	})
	require.NoError(t, err)

	err = d.View(func(tx *sql.Tx) error {
		providers, err := FindProvidersOf(tx, "libssl.so.3")
		require.NoError(t, err)
		require.Len(t, providers, 1)

		n, err := CountDependentsOn(tx, "libssl.so.3")
		require.NoError(t, err)
		require.Equal(t, 1, n)
		return nil
	})
	require.NoError(t, err)
}

func TestResolutionStrategyRoundTrip(t *testing.T) {
	d := openTestDB(t)
	var troveID int64
	strategy := types.ResolutionStrategy{
		Kind: types.ResolutionBinary, URL: "https://repo.example/nginx-1.24.0.pkg", Checksum: "deadbeef",
	}
	err := d.Update(func(tx *sql.Tx) error {
		csID, err := InsertChangeset(tx, Changeset{TxUUID: "tx-4", Status: types.ChangesetStatusApplied, CreatedAt: 1})
		if err != nil {
			return err
		}
		troveID, err = InsertTrove(tx, Trove{Name: "nginx", Version: "1.24.0", Arch: "x86_64", ChangesetID: csID})
		if err != nil {
			return err
		}
		return InsertResolutionStrategy(tx, troveID, strategy)
	})
	require.NoError(t, err)

	err = d.View(func(tx *sql.Tx) error {
		got, err := GetResolutionStrategy(tx, troveID)
		require.NoError(t, err)
		require.Equal(t, strategy, got)
		return nil
	})
	require.NoError(t, err)
}

func TestSystemStateSnapshotAndPrune(t *testing.T) {
	d := openTestDB(t)
	var s1, s2 int64
	err := d.Update(func(tx *sql.Tx) error {
		csID, err := InsertChangeset(tx, Changeset{TxUUID: "tx-5", Status: types.ChangesetStatusApplied, CreatedAt: 1})
		if err != nil {
			return err
		}
		n, err := NextStateNumber(tx)
		if err != nil {
			return err
		}
		require.Equal(t, int64(1), n)
		s1, err = InsertSystemState(tx, SystemState{StateNumber: n, ChangesetID: csID, PackageCount: 1})
		if err != nil {
			return err
		}
		if err := SetActiveSystemState(tx, s1); err != nil {
			return err
		}
		n, err = NextStateNumber(tx)
		if err != nil {
			return err
		}
		require.Equal(t, int64(2), n)
		s2, err = InsertSystemState(tx, SystemState{StateNumber: n, ChangesetID: csID, PackageCount: 2})
		if err != nil {
			return err
		}
		return SetActiveSystemState(tx, s2)
	})
	require.NoError(t, err)

	err = d.View(func(tx *sql.Tx) error {
		active, err := GetActiveSystemState(tx)
		require.NoError(t, err)
		require.Equal(t, s2, active.ID)
		return nil
	})
	require.NoError(t, err)

	// Pruning must never remove the active state.
	err = d.Update(func(tx *sql.Tx) error {
		return DeleteSystemState(tx, s1)
	})
	require.NoError(t, err)

	err = d.View(func(tx *sql.Tx) error {
		states, err := ListSystemStates(tx)
		require.NoError(t, err)
		require.Len(t, states, 1)
		require.Equal(t, s2, states[0].ID)
		return nil
	})
	require.NoError(t, err)
}

func TestTriggerDependencyGraph(t *testing.T) {
	d := openTestDB(t)
	var t1, t2 int64
	err := d.Update(func(tx *sql.Tx) error {
		var err error
		t1, err = InsertTrigger(tx, Trigger{Name: "ldconfig", Pattern: "/usr/lib/*.so", Handler: "ldconfig", Priority: 10, Enabled: true})
		if err != nil {
			return err
		}
		t2, err = InsertTrigger(tx, Trigger{Name: "depmod", Pattern: "/lib/modules/*", Handler: "depmod", Priority: 5, Enabled: true})
		if err != nil {
			return err
		}
		return InsertTriggerDependency(tx, TriggerDependency{TriggerID: t2, DependsOn: t1})
	})
	require.NoError(t, err)

	err = d.View(func(tx *sql.Tx) error {
		triggers, err := ListEnabledTriggers(tx)
		require.NoError(t, err)
		require.Len(t, triggers, 2)

		deps, err := ListTriggerDependencies(tx)
		require.NoError(t, err)
		require.Len(t, deps, 1)
		require.Equal(t, t2, deps[0].TriggerID)
		require.Equal(t, t1, deps[0].DependsOn)
		return nil
	})
	require.NoError(t, err)
}

func TestFederationPeerCircuitBreakerCounters(t *testing.T) {
	d := openTestDB(t)
	err := d.Update(func(tx *sql.Tx) error {
		return UpsertFederationPeer(tx, FederationPeer{
			Endpoint: "https://cell-hub-01.example:8443", NodeName: "cell-hub-01",
			Tier: types.PeerTierCellHub, IsEnabled: true,
		})
	})
	require.NoError(t, err)

	err = d.Update(func(tx *sql.Tx) error {
		for i := 0; i < 3; i++ {
			if err := RecordFederationOutcome(tx, "https://cell-hub-01.example:8443", false, 0, int64(i)); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	err = d.View(func(tx *sql.Tx) error {
		peers, err := ListFederationPeers(tx)
		require.NoError(t, err)
		require.Len(t, peers, 1)
		require.Equal(t, 3, peers[0].ConsecutiveFailures)
		return nil
	})
	require.NoError(t, err)

	err = d.Update(func(tx *sql.Tx) error {
		return SetFederationPeerEnabled(tx, "https://cell-hub-01.example:8443", false)
	})
	require.NoError(t, err)

	err = d.View(func(tx *sql.Tx) error {
		peers, err := ListEnabledFederationPeers(tx)
		require.NoError(t, err)
		require.Empty(t, peers)
		return nil
	})
	require.NoError(t, err)
}
