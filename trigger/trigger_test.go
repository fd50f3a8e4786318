package trigger

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/conarylabs/conary/build"
	"github.com/conarylabs/conary/db"
)

func openTestDB(t *testing.T) *db.DB {
	t.Helper()
	dir := build.TempDir("trigger", t.Name())
	d, err := db.Open(filepath.Join(dir, "conary.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestMatchesAnySplitsCommaList(t *testing.T) {
	require.True(t, MatchesAny("/etc/ld.so.conf.d/*.conf, /etc/ld.so.conf", "/etc/ld.so.conf"))
	require.True(t, MatchesAny("/etc/ld.so.conf.d/*.conf, /etc/ld.so.conf", "/etc/ld.so.conf.d/x86.conf"))
	require.False(t, MatchesAny("/etc/ld.so.conf.d/*.conf", "/usr/bin/ldconfig"))
}

func TestOrderRespectsDependencies(t *testing.T) {
	a := db.Trigger{ID: 1, Name: "ldconfig", Priority: 50}
	b := db.Trigger{ID: 2, Name: "depmod", Priority: 50}
	// b depends on a: a must run first.
	deps := []db.TriggerDependency{{TriggerID: 2, DependsOn: 1}}

	result := Order([]db.Trigger{b, a}, deps)
	require.Empty(t, result.CycleWarning)
	require.Len(t, result.Order, 2)
	require.Equal(t, int64(1), result.Order[0].ID)
	require.Equal(t, int64(2), result.Order[1].ID)
}

func TestOrderBreaksTiesByPriorityThenName(t *testing.T) {
	c := db.Trigger{ID: 3, Name: "zzz", Priority: 10}
	a := db.Trigger{ID: 1, Name: "aaa", Priority: 10}
	b := db.Trigger{ID: 2, Name: "bbb", Priority: 5}

	result := Order([]db.Trigger{c, a, b}, nil)
	require.Equal(t, []int64{2, 1, 3}, ids(result.Order))
}

func TestOrderFallsBackOnCycle(t *testing.T) {
	a := db.Trigger{ID: 1, Name: "a", Priority: 20}
	b := db.Trigger{ID: 2, Name: "b", Priority: 10}
	deps := []db.TriggerDependency{
		{TriggerID: 1, DependsOn: 2},
		{TriggerID: 2, DependsOn: 1},
	}
	result := Order([]db.Trigger{a, b}, deps)
	require.NotEmpty(t, result.CycleWarning)
	require.Equal(t, []int64{2, 1}, ids(result.Order)) // priority order fallback
}

func ids(ts []db.Trigger) []int64 {
	out := make([]int64, len(ts))
	for i, t := range ts {
		out[i] = t.ID
	}
	return out
}

type fakeExecutor struct {
	ran    []string
	fail   map[string]bool
	output string
}

func (f *fakeExecutor) Run(ctx context.Context, handler string) (string, error) {
	f.ran = append(f.ran, handler)
	if f.fail[handler] {
		return f.output, assertErr{}
	}
	return f.output, nil
}

type assertErr struct{}

func (assertErr) Error() string { return "handler failed" }

func TestRunForChangesetActivatesMatchingTriggers(t *testing.T) {
	conn := openTestDB(t)
	var triggerID int64
	err := conn.Update(func(tx *sql.Tx) error {
		var err error
		triggerID, err = db.InsertTrigger(tx, db.Trigger{
			Name: "ldconfig", Pattern: "/usr/lib/*.so*", Handler: "ldconfig", Priority: 50, Enabled: true,
		})
		return err
	})
	require.NoError(t, err)

	var changesetID int64
	err = conn.Update(func(tx *sql.Tx) error {
		var err error
		changesetID, err = db.InsertChangeset(tx, db.Changeset{TxUUID: "tx-trig", Status: "applied", CreatedAt: 1})
		return err
	})
	require.NoError(t, err)

	exec := &fakeExecutor{output: "ok"}
	eng := New(conn, exec, nil)
	results, err := eng.RunForChangeset(context.Background(), changesetID, []string{
		"/usr/lib/libfoo.so.1", "/etc/foo.conf",
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, triggerID, results[0].Trigger.ID)
	require.Equal(t, 1, results[0].MatchedFiles)
	require.True(t, results[0].Success)
	require.Len(t, exec.ran, 1)

	rows, err := func() ([]db.ChangesetTrigger, error) {
		var out []db.ChangesetTrigger
		err := conn.View(func(tx *sql.Tx) error {
			var err error
			out, err = db.ListChangesetTriggers(tx, changesetID)
			return err
		})
		return out, err
	}()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "completed", rows[0].Status)
}

func TestRunForChangesetNoActivation(t *testing.T) {
	conn := openTestDB(t)
	err := conn.Update(func(tx *sql.Tx) error {
		_, err := db.InsertTrigger(tx, db.Trigger{Name: "unrelated", Pattern: "/opt/*", Handler: "true", Enabled: true})
		return err
	})
	require.NoError(t, err)

	eng := New(conn, &fakeExecutor{}, nil)
	results, err := eng.RunForChangeset(context.Background(), 1, []string{"/usr/bin/foo"})
	require.NoError(t, err)
	require.Empty(t, results)
}
