// Package globs implements PathGlobs: a deterministic, matchable set of
// include/exclude glob patterns (§3 "PathGlobs").
package globs

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// Conjunction controls how the include patterns combine.
type Conjunction int

const (
	// ConjunctionAll requires every include pattern to match (logical AND).
	ConjunctionAll Conjunction = iota
	// ConjunctionAny requires at least one include pattern to match (logical OR).
	ConjunctionAny
)

// MissingPolicy controls behavior when a literal (non-glob) path is absent.
type MissingPolicy int

const (
	// MissingError fails the capture.
	MissingError MissingPolicy = iota
	// MissingWarn logs and continues.
	MissingWarn
	// MissingIgnore silently continues.
	MissingIgnore
)

// PathGlobs is a set of include/exclude globs plus a conjunction flag and a
// missing-path policy. It is deterministic: two PathGlobs built from the
// same pattern strings behave identically regardless of construction order.
type PathGlobs struct {
	Includes    []string
	Excludes    []string
	Conjunction Conjunction
	Missing     MissingPolicy

	includeCompiled []glob.Glob
	excludeCompiled []glob.Glob
}

// Compile parses every pattern. Call once after constructing a PathGlobs
// from user input; Matches and MayContain consult only compiled patterns, so
// before Compile, Matches reports false and MayContain reports true.
func (g *PathGlobs) Compile() error {
	g.includeCompiled = make([]glob.Glob, len(g.Includes))
	for i, p := range g.Includes {
		compiled, err := glob.Compile(p, '/')
		if err != nil {
			return fmt.Errorf("globs: invalid include pattern %q: %w", p, err)
		}
		g.includeCompiled[i] = compiled
	}
	g.excludeCompiled = make([]glob.Glob, len(g.Excludes))
	for i, p := range g.Excludes {
		compiled, err := glob.Compile(p, '/')
		if err != nil {
			return fmt.Errorf("globs: invalid exclude pattern %q: %w", p, err)
		}
		g.excludeCompiled[i] = compiled
	}
	return nil
}

// Matches reports whether path satisfies this PathGlobs: it must pass the
// include conjunction and must not match any exclude pattern.
func (g *PathGlobs) Matches(path string) bool {
	if g.matchesAnyExclude(path) {
		return false
	}
	if len(g.includeCompiled) == 0 {
		return false
	}
	switch g.Conjunction {
	case ConjunctionAny:
		for _, inc := range g.includeCompiled {
			if inc.Match(path) {
				return true
			}
		}
		return false
	default: // ConjunctionAll
		for _, inc := range g.includeCompiled {
			if !inc.Match(path) {
				return false
			}
		}
		return true
	}
}

func (g *PathGlobs) matchesAnyExclude(path string) bool {
	for _, ex := range g.excludeCompiled {
		if ex.Match(path) {
			return true
		}
	}
	return false
}

// MayContain is a conservative directory-pruning test: it reports whether a
// directory at prefix could possibly contain a matching descendant, used by
// store.Subset to avoid descending into excluded subtrees. It is
// intentionally permissive (false positives are safe, false negatives are not).
func (g *PathGlobs) MayContain(prefix string) bool {
	for i, ex := range g.excludeCompiled {
		if ex.Match(prefix) && isPrefixExclusion(prefix, g.Excludes[i]) {
			return false
		}
	}
	return true
}

// isPrefixExclusion is a best-effort heuristic: an exact, non-wildcard
// exclude pattern matching prefix means the whole subtree is excluded.
func isPrefixExclusion(prefix, pattern string) bool {
	return prefix != "" && !strings.ContainsAny(pattern, "*?[{")
}

// Fingerprint returns a stable string identity for this PathGlobs, used as
// part of a Snapshot's dependency-capture key.
func (g PathGlobs) Fingerprint() string {
	return fmt.Sprintf("inc=%v|exc=%v|conj=%d|missing=%d", g.Includes, g.Excludes, g.Conjunction, g.Missing)
}
