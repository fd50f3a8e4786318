package trigger

import (
	"sort"

	"github.com/conarylabs/conary/db"
)

// OrderResult is the outcome of ordering one changeset's activated
// triggers.
type OrderResult struct {
	Order        []db.Trigger
	CycleWarning string // non-empty if a dependency cycle forced a fallback
}

// Order topologically sorts activated (the triggers this changeset's
// changed paths matched) via Kahn's algorithm over deps (the full
// trigger_dependencies edge set, filtered to edges whose endpoints are
// both in activated - spec §4.8: "scoped to the triggers actually
// activated by this changeset"). Ties among triggers with no remaining
// dependency break by lower priority first, then by name. A cycle among
// the activated triggers falls back to plain priority order with a
// warning, rather than failing the changeset outright - per spec §7's
// "Scriptlet failure" handling philosophy, a trigger-ordering problem
// warns and proceeds, it does not block an already-committed install.
func Order(activated []db.Trigger, deps []db.TriggerDependency) OrderResult {
	byID := make(map[int64]db.Trigger, len(activated))
	activeIDs := make(map[int64]bool, len(activated))
	for _, t := range activated {
		byID[t.ID] = t
		activeIDs[t.ID] = true
	}

	// inDegree[t] counts edges t depends_on for, scoped to activated.
	inDegree := make(map[int64]int, len(activated))
	dependents := make(map[int64][]int64, len(activated)) // dependsOn -> [trigger]
	for _, t := range activated {
		inDegree[t.ID] = 0
	}
	for _, d := range deps {
		if !activeIDs[d.TriggerID] || !activeIDs[d.DependsOn] {
			continue
		}
		inDegree[d.TriggerID]++
		dependents[d.DependsOn] = append(dependents[d.DependsOn], d.TriggerID)
	}

	ready := make([]int64, 0, len(activated))
	for id, n := range inDegree {
		if n == 0 {
			ready = append(ready, id)
		}
	}

	var out []db.Trigger
	remaining := len(activated)
	for len(ready) > 0 {
		sortByPriorityThenName(ready, byID)
		id := ready[0]
		ready = ready[1:]
		out = append(out, byID[id])
		remaining--
		for _, dep := range dependents[id] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if remaining > 0 {
		// Cycle among the activated triggers: every node with
		// inDegree > 0 at this point is part of (or blocked behind) a
		// cycle. Fall back to priority order over everything, with a
		// warning the caller is expected to log.
		fallback := make([]db.Trigger, len(activated))
		copy(fallback, activated)
		sort.Slice(fallback, func(i, j int) bool {
			if fallback[i].Priority != fallback[j].Priority {
				return fallback[i].Priority < fallback[j].Priority
			}
			return fallback[i].Name < fallback[j].Name
		})
		return OrderResult{
			Order:        fallback,
			CycleWarning: "trigger_dependencies contains a cycle among activated triggers; falling back to priority order",
		}
	}

	return OrderResult{Order: out}
}

func sortByPriorityThenName(ids []int64, byID map[int64]db.Trigger) {
	sort.Slice(ids, func(i, j int) bool {
		a, b := byID[ids[i]], byID[ids[j]]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.Name < b.Name
	})
}
