package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCollectOutputs_FilesAndDirs(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "out.bin"), []byte("binary result"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "dist"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "dist", "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "dist", "b.txt"), []byte("b"), 0o644))

	st := newFakeContentStore()
	p := Process{
		OutputFilePaths: []string{"out.bin"},
		OutputDirPaths:  []string{"dist"},
	}

	d, err := collectOutputs(context.Background(), st, root, p)
	require.NoError(t, err)

	tree, ok, err := st.LoadDirectory(context.Background(), d)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, tree.Entries, 2)
}

func TestCollectOutputs_MissingDeclaredFileIsSkipped(t *testing.T) {
	root := t.TempDir()
	st := newFakeContentStore()
	p := Process{OutputFilePaths: []string{"never-produced.txt"}}

	d, err := collectOutputs(context.Background(), st, root, p)
	require.NoError(t, err)

	tree, ok, err := st.LoadDirectory(context.Background(), d)
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, tree.Entries)
}

func TestCollectOutputs_NestedOutputPathBuildsIntermediateDirs(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "bin", "release"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "bin", "release", "app"), []byte("elf"), 0o755))

	st := newFakeContentStore()
	p := Process{OutputFilePaths: []string{"bin/release/app"}}

	d, err := collectOutputs(context.Background(), st, root, p)
	require.NoError(t, err)

	tree, ok, err := st.LoadDirectory(context.Background(), d)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, tree.Entries, 1)
	require.Equal(t, "bin", tree.Entries[0].Name)

	sub, ok, err := st.LoadDirectory(context.Background(), tree.Entries[0].Digest)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, sub.Entries, 1)
	require.Equal(t, "release", sub.Entries[0].Name)
}

func TestCollectOutputs_ExecutableBitPreserved(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "app"), []byte("elf"), 0o755))

	st := newFakeContentStore()
	p := Process{OutputFilePaths: []string{"app"}}

	d, err := collectOutputs(context.Background(), st, root, p)
	require.NoError(t, err)

	tree, _, err := st.LoadDirectory(context.Background(), d)
	require.NoError(t, err)
	require.True(t, tree.Entries[0].IsExecutable)
}
