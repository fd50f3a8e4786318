package txn

// Result is returned by Finish, summarizing what a completed transaction
// did. Warnings carries non-fatal post-action failures (spec §4.1: "Log
// warning; transaction still complete").
type Result struct {
	TxUUID      string
	ChangesetID int64
	TroveID     int64
	FilesAdded  int
	Replaced    int
	Removed     int
	DirsCreated int
	Warnings    []string
}
