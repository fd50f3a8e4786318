package trigger

import (
	"context"
	"database/sql"
	"time"

	"github.com/conarylabs/conary/db"
	"github.com/conarylabs/conary/persist"
)

// Result is one trigger's outcome within a RunForChangeset call.
type Result struct {
	Trigger      db.Trigger
	MatchedFiles int
	Success      bool
	Output       string
}

// Engine matches changed paths against registered triggers and executes
// the ones a changeset activates, in dependency order.
type Engine struct {
	conn  *db.DB
	exec  Executor
	log   *persist.Logger
	nowFn func() int64
}

// New returns an Engine backed by conn, running handlers via exec (pass
// ShellExecutor{} in production). log may be nil.
func New(conn *db.DB, exec Executor, log *persist.Logger) *Engine {
	return &Engine{
		conn:  conn,
		exec:  exec,
		log:   log,
		nowFn: func() int64 { return time.Now().Unix() },
	}
}

// RunForChangeset matches every enabled trigger's pattern against
// changedPaths, topologically orders whichever triggers activated, and
// runs each in turn: marked running, executed, then marked completed or
// failed with captured output, per spec §4.8. A trigger failure is
// logged and recorded but never returned as an error - the owning
// transaction has already committed by the time triggers run, so there
// is nothing left to roll back (spec §7's post-commit propagation
// policy).
func (e *Engine) RunForChangeset(ctx context.Context, changesetID int64, changedPaths []string) ([]Result, error) {
	var enabled []db.Trigger
	var deps []db.TriggerDependency
	err := e.conn.View(func(tx *sql.Tx) error {
		var err error
		enabled, err = db.ListEnabledTriggers(tx)
		if err != nil {
			return err
		}
		deps, err = db.ListTriggerDependencies(tx)
		return err
	})
	if err != nil {
		return nil, err
	}

	matched := make(map[int64]int, len(enabled))
	var activated []db.Trigger
	for _, t := range enabled {
		count := 0
		for _, p := range changedPaths {
			if MatchesAny(t.Pattern, p) {
				count++
			}
		}
		if count > 0 {
			matched[t.ID] = count
			activated = append(activated, t)
		}
	}
	if len(activated) == 0 {
		return nil, nil
	}

	ordered := Order(activated, deps)
	if ordered.CycleWarning != "" {
		e.logWarn(ordered.CycleWarning)
	}

	results := make([]Result, 0, len(ordered.Order))
	for _, t := range ordered.Order {
		startedAt := e.nowFn()
		if err := e.conn.Update(func(tx *sql.Tx) error {
			return db.InsertChangesetTrigger(tx, db.ChangesetTrigger{
				ChangesetID:  changesetID,
				TriggerID:    t.ID,
				Status:       "running",
				MatchedFiles: matched[t.ID],
				StartedAt:    &startedAt,
			})
		}); err != nil {
			return results, err
		}

		output, runErr := e.exec.Run(ctx, t.Handler)
		status := "completed"
		if runErr != nil {
			status = "failed"
			e.logWarn("trigger %s failed: %v", t.Name, runErr)
		}
		completedAt := e.nowFn()
		if err := e.conn.Update(func(tx *sql.Tx) error {
			return db.UpdateChangesetTriggerStatus(tx, changesetID, t.ID, status, completedAt, output)
		}); err != nil {
			return results, err
		}

		results = append(results, Result{
			Trigger:      t,
			MatchedFiles: matched[t.ID],
			Success:      runErr == nil,
			Output:       output,
		})
	}
	return results, nil
}

func (e *Engine) logWarn(format string, args ...interface{}) {
	if e.log != nil {
		e.log.Warn().Msgf(format, args...)
	}
}
