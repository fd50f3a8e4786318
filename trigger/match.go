// Package trigger implements the hook engine of spec §4.8: glob-pattern
// matching of changed paths against registered triggers, Kahn's-algorithm
// ordering of the triggers a changeset actually activates, and execution
// with captured output - run strictly after the owning transaction has
// already committed, so a trigger failure never rolls back an install.
package trigger

import (
	"path/filepath"
	"strings"
)

// matchesPattern reports whether path matches a single glob pattern using
// the same rules as filepath.Match (no "**"; a single "*" does not cross
// a path separator). A malformed pattern never matches rather than
// erroring, since a bad pattern is a registration-time mistake, not
// something each match attempt should fail loudly on.
func matchesPattern(pattern, path string) bool {
	ok, err := filepath.Match(pattern, path)
	return err == nil && ok
}

// MatchesAny reports whether path matches any glob in patternList, a
// comma-separated list of patterns as stored in triggers.pattern (spec
// §4.8: "pattern is a comma-separated glob list").
func MatchesAny(patternList, path string) bool {
	for _, raw := range strings.Split(patternList, ",") {
		p := strings.TrimSpace(raw)
		if p == "" {
			continue
		}
		if matchesPattern(p, path) {
			return true
		}
	}
	return false
}
