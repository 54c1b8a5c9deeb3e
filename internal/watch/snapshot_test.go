package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stratabuild/strata/internal/digest"
	"github.com/stratabuild/strata/internal/globs"
)

type memStore struct {
	blobs map[string][]byte
	dirs  map[string]digest.Directory
}

func newMemStore() *memStore {
	return &memStore{blobs: map[string][]byte{}, dirs: map[string]digest.Directory{}}
}

func (m *memStore) StoreBytes(_ context.Context, b []byte) (digest.Digest, error) {
	d := digest.Of(b)
	m.blobs[d.String()] = append([]byte(nil), b...)
	return d, nil
}

func (m *memStore) StoreDirectory(_ context.Context, tree digest.Directory) (digest.Digest, error) {
	d := tree.Digest()
	m.dirs[d.String()] = tree
	return d, nil
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func TestSnapshotter_Capture_Deterministic(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main")
	writeFile(t, root, "pkg/util.go", "package pkg")
	writeFile(t, root, "README.md", "hi")

	st := newMemStore()
	snap := NewSnapshotter(root, st, nil)

	g := globs.PathGlobs{Includes: []string{"**/*.go"}}
	require.NoError(t, g.Compile())

	s1, err := snap.Capture(context.Background(), g)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"main.go", "pkg/util.go"}, s1.Paths)

	s2, err := snap.Capture(context.Background(), g)
	require.NoError(t, err)
	require.Equal(t, s1.Digest, s2.Digest)
}

func TestSnapshotter_Capture_SkipsGitDir(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main")
	writeFile(t, root, ".git/HEAD", "ref: refs/heads/main")

	st := newMemStore()
	snap := NewSnapshotter(root, st, nil)
	g := globs.PathGlobs{Includes: []string{"**/*"}}
	require.NoError(t, g.Compile())

	s, err := snap.Capture(context.Background(), g)
	require.NoError(t, err)
	for _, p := range s.Paths {
		require.NotContains(t, p, ".git")
	}
}

func TestSnapshotter_Capture_HonorsGitignore(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".gitignore", "*.log\n")
	writeFile(t, root, "app.log", "noisy")
	writeFile(t, root, "main.go", "package main")

	st := newMemStore()
	snap := NewSnapshotter(root, st, nil)
	g := globs.PathGlobs{Includes: []string{"**/*"}}
	require.NoError(t, g.Compile())

	s, err := snap.Capture(context.Background(), g)
	require.NoError(t, err)
	require.NotContains(t, s.Paths, "app.log")
	require.Contains(t, s.Paths, "main.go")
}

func TestSnapshotter_Capture_DigestChangesWithContent(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main")

	st := newMemStore()
	snap := NewSnapshotter(root, st, nil)
	g := globs.PathGlobs{Includes: []string{"**/*.go"}}
	require.NoError(t, g.Compile())

	s1, err := snap.Capture(context.Background(), g)
	require.NoError(t, err)

	writeFile(t, root, "main.go", "package main\n\nfunc main() {}")
	s2, err := snap.Capture(context.Background(), g)
	require.NoError(t, err)

	require.NotEqual(t, s1.Digest, s2.Digest)
}

func TestSnapshotter_Capture_NoMatchesYieldsEmptyDigest(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "README.md", "hi")

	st := newMemStore()
	snap := NewSnapshotter(root, st, nil)
	g := globs.PathGlobs{Includes: []string{"**/*.go"}}
	require.NoError(t, g.Compile())

	s, err := snap.Capture(context.Background(), g)
	require.NoError(t, err)
	require.Empty(t, s.Paths)
	require.Equal(t, digest.Directory{}.Digest(), s.Digest)
}
