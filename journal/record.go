// Package journal implements the append-only, CRC-framed transaction
// journal described in spec §4.2 and §6.3: one record per line, formatted
// as "{crc32_hex}|{json}\n". Reading stops at the first CRC mismatch;
// every record before that point remains valid, because writes are
// sequential and a torn write can only ever corrupt the last line.
package journal

import "encoding/json"

// Kind discriminates the JSON record stored on a journal line.
type Kind string

const (
	KindBegin              Kind = "Begin"
	KindPlan               Kind = "Plan"
	KindPrepared           Kind = "Prepared"
	KindPreScriptComplete  Kind = "PreScriptComplete"
	KindBackup             Kind = "Backup"
	KindBackupsComplete    Kind = "BackupsComplete"
	KindStage              Kind = "Stage"
	KindStagingComplete    Kind = "StagingComplete"
	KindFsApplied          Kind = "FsApplied"
	KindDbCommitIntent     Kind = "DbCommitIntent"
	KindDbApplied          Kind = "DbApplied"
	KindPostAction         Kind = "PostAction"
	KindDone               Kind = "Done"
)

// IsBarrier reports whether a record of this kind is a phase barrier: the
// writer must fsync the journal (and the containing directory) before any
// further action is taken, per spec §4.1's "every arrow is a phase
// barrier".
func (k Kind) IsBarrier() bool {
	switch k {
	case KindBegin, KindPlan, KindPrepared, KindPreScriptComplete,
		KindBackupsComplete, KindStagingComplete, KindFsApplied,
		KindDbCommitIntent, KindDbApplied, KindDone:
		return true
	default:
		return false
	}
}

// Record is one decoded journal line: its discriminant Kind plus the raw
// JSON payload, which callers decode into the matching typed struct below
// via Record.Decode.
type Record struct {
	Kind Kind            `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// NewRecord marshals payload and wraps it with its Kind for appending.
func NewRecord(kind Kind, payload interface{}) (Record, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Record{}, err
	}
	return Record{Kind: kind, Data: b}, nil
}

// Decode unmarshals the record's raw payload into v.
func (r Record) Decode(v interface{}) error {
	return json.Unmarshal(r.Data, v)
}

// Begin opens a new transaction.
type Begin struct {
	TxUUID      string `json:"tx_uuid"`
	Root        string `json:"root"`
	DBPath      string `json:"db_path"`
	Description string `json:"description"`
	Timestamp   int64  `json:"timestamp"`
}

// Plan records the operations the planner decided on.
type Plan struct {
	Operations []string `json:"operations"`
	Package    string   `json:"package"`
	Version    string   `json:"version"`
	IsUpgrade  bool     `json:"is_upgrade"`
	OldVersion string   `json:"old_version,omitempty"`
}

// Prepared marks the end of CAS ingestion for this transaction.
type Prepared struct {
	FilesInCAS int64 `json:"files_in_cas"`
	TotalBytes int64 `json:"total_bytes"`
}

// PreScriptComplete marks the end of pre-install/pre-remove scriptlets.
type PreScriptComplete struct {
	ExitCode   int   `json:"exit_code"`
	DurationMs int64 `json:"duration_ms"`
}

// Backup records a single path's move into the transaction backup tree.
// It is not itself a barrier: the barrier comes after all backups via
// BackupsComplete, so that many individual moves can be batched before the
// next fsync.
type Backup struct {
	Path       string `json:"path"`
	BackupPath string `json:"backup_path"`
	OldType    string `json:"old_type"`
	OldHash    string `json:"old_hash,omitempty"`
	OldMode    uint32 `json:"old_mode"`
	OldSize    int64  `json:"old_size"`
}

// BackupsComplete is the barrier ending the backup phase.
type BackupsComplete struct {
	Count int `json:"count"`
}

// Stage records a single new file being linked/symlinked into the
// transaction's stage tree.
type Stage struct {
	Path      string `json:"path"`
	StagePath string `json:"stage_path"`
	NewHash   string `json:"new_hash"`
	NewMode   uint32 `json:"new_mode"`
	NewType   string `json:"new_type"`
}

// StagingComplete is the barrier ending the stage phase.
type StagingComplete struct {
	Count int `json:"count"`
}

// FsApplied is the barrier ending the apply phase: every staged/backed-up
// path has been renamed onto its final live location.
type FsApplied struct {
	FilesAdded   int `json:"files_added"`
	Replaced     int `json:"replaced"`
	Removed      int `json:"removed"`
	DirsCreated  int `json:"dirs_created"`
}

// DbCommitIntent is written and fsynced immediately before the caller's SQL
// transaction executes; it is the critical transition described in spec
// §4.1 after which the database is the source of truth for whether commit
// actually happened.
type DbCommitIntent struct {
	TxUUID string `json:"tx_uuid"`
}

// DbApplied is written after the caller's SQL transaction has committed.
type DbApplied struct {
	ChangesetID int64 `json:"changeset_id"`
	TroveID     int64 `json:"trove_id"`
}

// PostAction records the outcome of one scriptlet, systemd unit, tmpfiles
// rule, sysctl application, or trigger run. It is not a barrier: post
// actions never roll back the transaction (§4.1 Failure semantics).
type PostAction struct {
	ActionType string `json:"action_type"`
	Name       string `json:"name"`
	Success    bool   `json:"success"`
	ExitCode   *int   `json:"exit_code,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Done closes out the transaction.
type Done struct {
	DurationMs int64 `json:"duration_ms"`
	Success    bool  `json:"success"`
}
