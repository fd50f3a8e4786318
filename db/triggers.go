package db

import "database/sql"

// Trigger is a hook registered against a file-path glob pattern (spec
// §4.5), run when a changeset touches a matching path.
type Trigger struct {
	ID       int64
	Name     string
	Pattern  string
	Handler  string
	Priority int
	Enabled  bool
	Builtin  bool
}

// TriggerDependency records that DependsOn must run before TriggerID
// within the same activation, the edge set fed to the engine's
// topological sort.
type TriggerDependency struct {
	TriggerID int64
	DependsOn int64
}

// ChangesetTrigger records one trigger's execution against one changeset.
type ChangesetTrigger struct {
	ChangesetID  int64
	TriggerID    int64
	Status       string
	MatchedFiles int
	StartedAt    *int64
	CompletedAt  *int64
	Output       string
}

// InsertTrigger inserts a Trigger within tx.
func InsertTrigger(tx *sql.Tx, t Trigger) (int64, error) {
	res, err := tx.Exec(
		`INSERT INTO triggers (name, pattern, handler, priority, enabled, builtin) VALUES (?, ?, ?, ?, ?, ?)`,
		t.Name, t.Pattern, t.Handler, t.Priority, boolToInt(t.Enabled), boolToInt(t.Builtin),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListEnabledTriggers returns every enabled Trigger, the candidate set the
// engine matches against changed paths.
func ListEnabledTriggers(tx *sql.Tx) ([]Trigger, error) {
	rows, err := tx.Query(
		`SELECT id, name, pattern, handler, priority, enabled, builtin FROM triggers WHERE enabled = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTriggers(rows)
}

// ListAllTriggers returns every registered Trigger, enabled or not.
func ListAllTriggers(tx *sql.Tx) ([]Trigger, error) {
	rows, err := tx.Query(`SELECT id, name, pattern, handler, priority, enabled, builtin FROM triggers`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTriggers(rows)
}

func scanTriggers(rows *sql.Rows) ([]Trigger, error) {
	var out []Trigger
	for rows.Next() {
		var t Trigger
		var enabled, builtin int
		if err := rows.Scan(&t.ID, &t.Name, &t.Pattern, &t.Handler, &t.Priority, &enabled, &builtin); err != nil {
			return nil, err
		}
		t.Enabled = enabled != 0
		t.Builtin = builtin != 0
		out = append(out, t)
	}
	return out, rows.Err()
}

// SetTriggerEnabled toggles a Trigger's enabled flag.
func SetTriggerEnabled(tx *sql.Tx, id int64, enabled bool) error {
	_, err := tx.Exec(`UPDATE triggers SET enabled = ? WHERE id = ?`, boolToInt(enabled), id)
	return err
}

// InsertTriggerDependency records an edge in the trigger ordering graph.
func InsertTriggerDependency(tx *sql.Tx, d TriggerDependency) error {
	_, err := tx.Exec(`INSERT INTO trigger_dependencies (trigger_id, depends_on) VALUES (?, ?)`, d.TriggerID, d.DependsOn)
	return err
}

// ListTriggerDependencies returns every TriggerDependency edge, the input
// to Kahn's algorithm during activation ordering.
func ListTriggerDependencies(tx *sql.Tx) ([]TriggerDependency, error) {
	rows, err := tx.Query(`SELECT trigger_id, depends_on FROM trigger_dependencies`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TriggerDependency
	for rows.Next() {
		var d TriggerDependency
		if err := rows.Scan(&d.TriggerID, &d.DependsOn); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// InsertChangesetTrigger records that a trigger activated for a changeset.
func InsertChangesetTrigger(tx *sql.Tx, ct ChangesetTrigger) error {
	_, err := tx.Exec(
		`INSERT INTO changeset_triggers (changeset_id, trigger_id, status, matched_files, started_at, completed_at, output)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ct.ChangesetID, ct.TriggerID, ct.Status, ct.MatchedFiles, ct.StartedAt, ct.CompletedAt, ct.Output,
	)
	return err
}

// UpdateChangesetTriggerStatus updates the recorded status/output of a
// trigger run after it completes.
func UpdateChangesetTriggerStatus(tx *sql.Tx, changesetID, triggerID int64, status string, completedAt int64, output string) error {
	_, err := tx.Exec(
		`UPDATE changeset_triggers SET status = ?, completed_at = ?, output = ?
		 WHERE changeset_id = ? AND trigger_id = ?`,
		status, completedAt, output, changesetID, triggerID,
	)
	return err
}

// ListChangesetTriggers returns every ChangesetTrigger row for changesetID.
func ListChangesetTriggers(tx *sql.Tx, changesetID int64) ([]ChangesetTrigger, error) {
	rows, err := tx.Query(
		`SELECT changeset_id, trigger_id, status, matched_files, started_at, completed_at, output
		 FROM changeset_triggers WHERE changeset_id = ?`, changesetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ChangesetTrigger
	for rows.Next() {
		var ct ChangesetTrigger
		if err := rows.Scan(&ct.ChangesetID, &ct.TriggerID, &ct.Status, &ct.MatchedFiles,
			&ct.StartedAt, &ct.CompletedAt, &ct.Output); err != nil {
			return nil, err
		}
		out = append(out, ct)
	}
	return out, rows.Err()
}
