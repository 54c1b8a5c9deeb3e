// Package watch implements the file watcher and snapshotter (component B):
// deterministic, content-addressed captures of a PathGlobs, and a
// debounced, generation-numbered invalidation event stream.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	gitignore "github.com/go-git/go-git/v5/plumbing/format/gitignore"

	"github.com/stratabuild/strata/internal/digest"
	strataerrors "github.com/stratabuild/strata/internal/errors"
	"github.com/stratabuild/strata/internal/globs"
)

// contentStore is the subset of *store.Store that the snapshotter needs.
// Declared as an interface here (rather than importing internal/store
// directly) to avoid an import cycle with store's users in tests.
type contentStore interface {
	StoreBytes(ctx context.Context, b []byte) (digest.Digest, error)
	StoreDirectory(ctx context.Context, tree digest.Directory) (digest.Digest, error)
}

// Snapshot is the output of capturing a PathGlobs: a digest plus the ordered
// sequence of matched paths (§3 "Snapshot").
type Snapshot struct {
	Digest digest.Digest
	Paths  []string
}

// Snapshotter captures PathGlobs against a build root into Snapshots.
type Snapshotter struct {
	root    string
	store   contentStore
	ignores []gitignore.Pattern
}

// NewSnapshotter builds a Snapshotter rooted at root. extraIgnores are
// additional user-configured ignore patterns (gitignore syntax), appended
// after the fixed built-in set and any discovered .gitignore files
// (domain-stack: go-git/go-git's gitignore package, §4.B "ignore patterns").
func NewSnapshotter(root string, st contentStore, extraIgnores []string) *Snapshotter {
	s := &Snapshotter{root: root, store: st}
	for _, pat := range builtinIgnores {
		s.ignores = append(s.ignores, gitignore.ParsePattern(pat, nil))
	}
	if gi, err := os.ReadFile(filepath.Join(root, ".gitignore")); err == nil {
		for _, line := range strings.Split(string(gi), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			s.ignores = append(s.ignores, gitignore.ParsePattern(line, nil))
		}
	}
	for _, pat := range extraIgnores {
		s.ignores = append(s.ignores, gitignore.ParsePattern(pat, nil))
	}
	return s
}

var builtinIgnores = []string{".git", ".strata-store", "*.pyc", "__pycache__", ".DS_Store"}

func (s *Snapshotter) isIgnored(relPath string, isDir bool) bool {
	parts := strings.Split(relPath, "/")
	for _, pat := range s.ignores {
		if pat.Match(parts, isDir) != gitignore.NoMatch {
			return true
		}
	}
	return false
}

// Capture evaluates g deterministically against the build root: sorted path
// order, a stable tree digest, and the symlink policy of §4.B ("follow
// within the build root, never outside; a symlink pointing outside yields an
// error unless the glob set allows it" — expressed here as MissingIgnore
// suppressing the error).
func (s *Snapshotter) Capture(ctx context.Context, g globs.PathGlobs) (Snapshot, error) {
	var matched []string

	walkErr := filepath.Walk(s.root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(s.root, p)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if s.isIgnored(rel, info.IsDir()) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() {
			if !g.MayContain(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if info.Mode()&os.ModeSymlink != 0 {
			target, err := filepath.EvalSymlinks(p)
			if err != nil || !strings.HasPrefix(target, s.root) {
				if g.Missing == globs.MissingIgnore {
					return nil
				}
				return fmt.Errorf("snapshot: symlink %q escapes build root", rel)
			}
		}
		if g.Matches(rel) {
			matched = append(matched, rel)
		}
		return nil
	})
	if walkErr != nil {
		return Snapshot{}, strataerrors.New(strataerrors.KindIO, walkErr)
	}

	sort.Strings(matched)

	files := make(map[string]digest.Entry, len(matched))
	for _, rel := range matched {
		b, err := os.ReadFile(filepath.Join(s.root, rel))
		if err != nil {
			if os.IsNotExist(err) && g.Missing != globs.MissingError {
				continue
			}
			return Snapshot{}, strataerrors.New(strataerrors.KindIO, err)
		}
		d, err := s.store.StoreBytes(ctx, b)
		if err != nil {
			return Snapshot{}, err
		}
		info, statErr := os.Stat(filepath.Join(s.root, rel))
		executable := statErr == nil && info.Mode()&0o111 != 0
		files[rel] = digest.Entry{Name: rel, Digest: d, Kind: digest.KindFile, IsExecutable: executable}
	}

	treeDigest, err := s.storeTree(ctx, "", matched, files)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Digest: treeDigest, Paths: matched}, nil
}

// storeTree recursively materialises a nested Directory tree (§3
// "Directory (tree)") from the flat set of matched paths, so the resulting
// digest composes with store.MergeDirectories/Subset which walk real
// subdirectories.
func (s *Snapshotter) storeTree(ctx context.Context, prefix string, paths []string, files map[string]digest.Entry) (digest.Digest, error) {
	childPaths := make(map[string][]string)
	isLeaf := make(map[string]bool)
	var names []string

	for _, p := range paths {
		rest := p
		if prefix != "" {
			rest = strings.TrimPrefix(p, prefix+"/")
		}
		segs := strings.SplitN(rest, "/", 2)
		head := segs[0]
		if _, ok := childPaths[head]; !ok {
			names = append(names, head)
			childPaths[head] = nil
		}
		if len(segs) == 2 {
			childPaths[head] = append(childPaths[head], p)
		} else {
			isLeaf[head] = true
		}
	}
	sort.Strings(names)

	entries := make([]digest.Entry, 0, len(names))
	for _, name := range names {
		full := name
		if prefix != "" {
			full = prefix + "/" + name
		}
		if isLeaf[name] {
			if fe, ok := files[full]; ok {
				entries = append(entries, digest.Entry{Name: name, Digest: fe.Digest, Kind: digest.KindFile, IsExecutable: fe.IsExecutable})
			}
			continue
		}
		subDigest, err := s.storeTree(ctx, full, childPaths[name], files)
		if err != nil {
			return digest.Digest{}, err
		}
		entries = append(entries, digest.Entry{Name: name, Digest: subDigest, Kind: digest.KindDir})
	}
	return s.store.StoreDirectory(ctx, digest.Directory{Entries: entries})
}
