package snapshot

import (
	"database/sql"

	"github.com/conarylabs/conary/db"
)

// UpgradePair is one trove present in both states under the same name
// but a different version.
type UpgradePair struct {
	Name string
	Arch string
	Old  string // old version
	New  string // new version
}

// Diff is the three-way comparison spec §4.9 defines between two states:
// added (present only in the newer state), removed (present only in the
// older state), and upgraded (same name+arch, different version).
type Diff struct {
	Added    []db.StateMember
	Removed  []db.StateMember
	Upgraded []UpgradePair
}

// key identifies a trove within a state independent of version, since a
// name+arch pair is what "the same package" means across an upgrade.
type key struct {
	name string
	arch string
}

// DiffStates computes the Diff between the SystemStates numbered
// oldNumber and newNumber (oldNumber is the baseline; newNumber is
// compared against it - "added" means present in newNumber but not
// oldNumber).
func (e *Engine) DiffStates(oldNumber, newNumber int64) (Diff, error) {
	var diff Diff
	err := e.conn.View(func(tx *sql.Tx) error {
		oldState, err := db.GetSystemStateByNumber(tx, oldNumber)
		if err != nil {
			return err
		}
		newState, err := db.GetSystemStateByNumber(tx, newNumber)
		if err != nil {
			return err
		}
		oldMembers, err := db.ListStateMembers(tx, oldState.ID)
		if err != nil {
			return err
		}
		newMembers, err := db.ListStateMembers(tx, newState.ID)
		if err != nil {
			return err
		}
		diff = diffMembers(oldMembers, newMembers)
		return nil
	})
	return diff, err
}

func diffMembers(oldMembers, newMembers []db.StateMember) Diff {
	oldByKey := make(map[key]db.StateMember, len(oldMembers))
	for _, m := range oldMembers {
		oldByKey[key{m.TroveName, m.Architecture}] = m
	}
	newByKey := make(map[key]db.StateMember, len(newMembers))
	for _, m := range newMembers {
		newByKey[key{m.TroveName, m.Architecture}] = m
	}

	var diff Diff
	for k, nm := range newByKey {
		om, existed := oldByKey[k]
		switch {
		case !existed:
			diff.Added = append(diff.Added, nm)
		case om.TroveVersion != nm.TroveVersion:
			diff.Upgraded = append(diff.Upgraded, UpgradePair{
				Name: k.name, Arch: k.arch, Old: om.TroveVersion, New: nm.TroveVersion,
			})
		}
	}
	for k, om := range oldByKey {
		if _, stillPresent := newByKey[k]; !stillPresent {
			diff.Removed = append(diff.Removed, om)
		}
	}
	return diff
}

// RestorePlan is the set of operations needed to move the system from
// its currently active state to targetNumber, per spec §4.9: "to_remove =
// diff.removed, to_install = diff.added, to_upgrade = diff.upgraded."
// Executing it is the caller's responsibility, as one or more ordinary
// transactions through the txn package - this package only computes what
// needs to change, deliberately staying ignorant of how a trove's files
// are actually fetched/extracted (that capability set lives in the
// out-of-scope package-format adapters spec §9 describes).
type RestorePlan struct {
	TargetState db.SystemState
	ToRemove    []db.StateMember
	ToInstall   []db.StateMember
	ToUpgrade   []UpgradePair
}

// PlanRestore computes the RestorePlan from the currently active state to
// targetNumber.
func (e *Engine) PlanRestore(targetNumber int64) (RestorePlan, error) {
	var plan RestorePlan
	err := e.conn.View(func(tx *sql.Tx) error {
		active, err := db.GetActiveSystemState(tx)
		if err != nil {
			return err
		}
		target, err := db.GetSystemStateByNumber(tx, targetNumber)
		if err != nil {
			return err
		}
		activeMembers, err := db.ListStateMembers(tx, active.ID)
		if err != nil {
			return err
		}
		targetMembers, err := db.ListStateMembers(tx, target.ID)
		if err != nil {
			return err
		}
		diff := diffMembers(activeMembers, targetMembers)
		plan = RestorePlan{
			TargetState: target,
			ToRemove:    diff.Removed,
			ToInstall:   diff.Added,
			ToUpgrade:   diff.Upgraded,
		}
		return nil
	})
	return plan, err
}
