package types

// TroveType distinguishes the three shapes a Trove can take.
type TroveType string

const (
	TroveTypePackage   TroveType = "package"
	TroveTypeComponent TroveType = "component"
	TroveTypeGroup     TroveType = "group"
)

// InstallSource records where a Trove's content came from.
type InstallSource string

const (
	InstallSourceFile           InstallSource = "file"
	InstallSourceRepository     InstallSource = "repository"
	InstallSourceAdoptedTrack   InstallSource = "adopted-track"
	InstallSourceAdoptedFull    InstallSource = "adopted-full"
)

// InstallReason records why a Trove was installed.
type InstallReason string

const (
	InstallReasonExplicit   InstallReason = "explicit"
	InstallReasonDependency InstallReason = "dependency"
)

// DependencyKind distinguishes runtime, build-time, and optional
// dependencies.
type DependencyKind string

const (
	DependencyKindRuntime  DependencyKind = "runtime"
	DependencyKindBuild    DependencyKind = "build"
	DependencyKindOptional DependencyKind = "optional"
)

// ChangesetStatus tracks a Changeset through its lifecycle.
type ChangesetStatus string

const (
	ChangesetStatusPending    ChangesetStatus = "pending"
	ChangesetStatusApplied    ChangesetStatus = "applied"
	ChangesetStatusRolledBack ChangesetStatus = "rolled-back"
)

// FileType distinguishes the three kinds of filesystem entries the engine
// manages.
type FileType string

const (
	FileTypeRegular   FileType = "regular"
	FileTypeSymlink   FileType = "symlink"
	FileTypeDirectory FileType = "directory"
)

// TransactionState is the one-way state machine described in spec §4.1.
type TransactionState string

const (
	TxStateNew                 TransactionState = "New"
	TxStatePlanned             TransactionState = "Planned"
	TxStatePrepared            TransactionState = "Prepared"
	TxStatePreScriptsComplete  TransactionState = "PreScriptsComplete"
	TxStateBackedUp            TransactionState = "BackedUp"
	TxStateStaged              TransactionState = "Staged"
	TxStateFsApplied           TransactionState = "FsApplied"
	TxStateDbApplied           TransactionState = "DbApplied"
	TxStatePostScriptsComplete TransactionState = "PostScriptsComplete"
	TxStateDone                TransactionState = "Done"
	TxStateAborted             TransactionState = "Aborted"
	TxStateFailed              TransactionState = "Failed"
)

// txStateOrder gives each state's position in the one-way progression, used
// to validate that transitions only ever move forward (or to a terminal
// Aborted/Failed state).
var txStateOrder = map[TransactionState]int{
	TxStateNew:                 0,
	TxStatePlanned:             1,
	TxStatePrepared:            2,
	TxStatePreScriptsComplete:  3,
	TxStateBackedUp:            4,
	TxStateStaged:              5,
	TxStateFsApplied:           6,
	TxStateDbApplied:           7,
	TxStatePostScriptsComplete: 8,
	TxStateDone:                9,
}

// Before reports whether s strictly precedes other in the state machine's
// one-way progression. Terminal Aborted/Failed states are not ordered
// relative to anything and always report false.
func (s TransactionState) Before(other TransactionState) bool {
	a, aok := txStateOrder[s]
	b, bok := txStateOrder[other]
	return aok && bok && a < b
}

// PeerTier classifies a federation peer's place in the cache fabric tree.
type PeerTier string

const (
	PeerTierRegionHub PeerTier = "region-hub"
	PeerTierCellHub   PeerTier = "cell-hub"
	PeerTierLeaf      PeerTier = "leaf"
)

// ResolutionKind tags the variant held by a ResolutionStrategy.
type ResolutionKind string

const (
	ResolutionBinary   ResolutionKind = "binary"
	ResolutionRemi     ResolutionKind = "remi"
	ResolutionRecipe   ResolutionKind = "recipe"
	ResolutionDelegate ResolutionKind = "delegate"
	ResolutionLegacy   ResolutionKind = "legacy"
)

// ResolutionStrategy is a tagged union describing how a candidate trove's
// bytes were obtained, carried for provenance (see SPEC_FULL.md §3-EXT).
// Exactly one of the per-kind fields is meaningful, selected by Kind.
type ResolutionStrategy struct {
	Kind ResolutionKind

	// Binary
	URL         string
	Checksum    string
	DeltaBase   string // optional

	// Remi
	Endpoint   string
	Distro     string
	SourceName string // optional

	// Recipe
	RecipeURL string
	Sources   []string
	Patches   []string

	// Delegate
	Label string

	// Legacy
	RowID int64
}
