// Package scope implements the per-step file-mutation scope boundary: an
// allow-list of literal paths and globs a step may modify, matched against
// realpath-resolved absolute paths (spec.md §3 "Scope Declaration", §9
// "Scope matcher").
//
// Glob expansion follows the teacher's processor/ast-indexer/paths.go use of
// doublestar for "**" support, adapted here from directory expansion to
// path-against-pattern matching (doublestar.Match) since scope checking
// tests concrete modified-file paths against declared patterns rather than
// expanding patterns into a file list.
package scope

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrNoAllowedPaths is a sentinel used only for documentation purposes; an
// empty allow-list is not itself an error — see spec.md §8 boundary
// behaviour "Empty scope allow-list means no modifications permitted" —
// Matcher.Matches simply returns false for every path in that case.
var ErrNoAllowedPaths = errors.New("scope: allow-list is empty")

// Matcher evaluates whether a file path falls within a step's declared
// scope allow-list.
type Matcher struct {
	repoRoot   string
	allowPaths []string
}

// NewMatcher builds a Matcher rooted at repoRoot (an absolute, already
// realpath-resolved directory) with the given allow-list patterns.
// Patterns are interpreted relative to repoRoot.
func NewMatcher(repoRoot string, allowPaths []string) *Matcher {
	return &Matcher{repoRoot: repoRoot, allowPaths: allowPaths}
}

// Matches reports whether absPath (after symlink resolution) matches any
// pattern in the allow-list. An empty allow-list never matches.
func (m *Matcher) Matches(absPath string) (bool, error) {
	resolved, err := realpath(absPath)
	if err != nil {
		return false, fmt.Errorf("resolve realpath for %s: %w", absPath, err)
	}

	rel, err := filepath.Rel(m.repoRoot, resolved)
	if err != nil {
		return false, fmt.Errorf("relativize %s against %s: %w", resolved, m.repoRoot, err)
	}
	rel = filepath.ToSlash(rel)

	for _, pattern := range m.allowPaths {
		ok, err := doublestar.Match(filepath.ToSlash(pattern), rel)
		if err != nil {
			return false, fmt.Errorf("evaluate pattern %q: %w", pattern, err)
		}
		if ok {
			return true, nil
		}
		// Literal directory patterns (e.g. "src/des") should also match
		// files nested underneath them even without a trailing "/**",
		// mirroring how the teacher's ResolvePaths treats a bare path as
		// matching its own subtree.
		if ok, err := doublestar.Match(filepath.ToSlash(pattern)+"/**", rel); err == nil && ok {
			return true, nil
		}
	}
	return false, nil
}

// Violations partitions modifiedFiles (absolute paths) into those that
// match the allow-list and those that don't. Used by the Subagent-Stop
// Service to build its SCOPE_VIOLATION events (spec.md §4.3 check 3).
func (m *Matcher) Violations(modifiedFiles []string) (violations []string, err error) {
	for _, f := range modifiedFiles {
		ok, matchErr := m.Matches(f)
		if matchErr != nil {
			return nil, matchErr
		}
		if !ok {
			violations = append(violations, f)
		}
	}
	return violations, nil
}
