package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stratabuild/strata/internal/digest"
)

type fakeContentStore struct {
	blobs map[string][]byte
	dirs  map[string]digest.Directory
}

func newFakeContentStore() *fakeContentStore {
	return &fakeContentStore{blobs: map[string][]byte{}, dirs: map[string]digest.Directory{}}
}

func (f *fakeContentStore) put(b []byte) digest.Digest {
	d := digest.Of(b)
	f.blobs[d.String()] = b
	return d
}

func (f *fakeContentStore) putDir(tree digest.Directory) digest.Digest {
	d := tree.Digest()
	f.dirs[d.String()] = tree
	return d
}

func (f *fakeContentStore) LoadBytes(_ context.Context, d digest.Digest) ([]byte, bool, error) {
	b, ok := f.blobs[d.String()]
	return b, ok, nil
}

func (f *fakeContentStore) LoadDirectory(_ context.Context, d digest.Digest) (digest.Directory, bool, error) {
	t, ok := f.dirs[d.String()]
	return t, ok, nil
}

func (f *fakeContentStore) StoreBytes(_ context.Context, b []byte) (digest.Digest, error) {
	return f.put(b), nil
}

func (f *fakeContentStore) StoreDirectory(_ context.Context, tree digest.Directory) (digest.Digest, error) {
	return f.putDir(tree), nil
}

func TestMaterialize_FlatFiles(t *testing.T) {
	st := newFakeContentStore()
	fa := st.put([]byte("package main"))
	fb := st.put([]byte("#!/bin/sh\necho hi"))

	tree := digest.Directory{Entries: []digest.Entry{
		{Name: "main.go", Digest: fa, Kind: digest.KindFile},
		{Name: "run.sh", Digest: fb, Kind: digest.KindFile, IsExecutable: true},
	}}

	root := filepath.Join(t.TempDir(), "sandbox")
	require.NoError(t, Materialize(context.Background(), st, root, tree))

	got, err := os.ReadFile(filepath.Join(root, "main.go"))
	require.NoError(t, err)
	require.Equal(t, "package main", string(got))

	info, err := os.Stat(filepath.Join(root, "run.sh"))
	require.NoError(t, err)
	require.NotZero(t, info.Mode()&0o111, "executable entries must materialise as executable")
}

func TestMaterialize_NestedDirectories(t *testing.T) {
	st := newFakeContentStore()
	fa := st.put([]byte("nested content"))
	sub := st.putDir(digest.Directory{Entries: []digest.Entry{
		{Name: "util.go", Digest: fa, Kind: digest.KindFile},
	}})
	top := digest.Directory{Entries: []digest.Entry{
		{Name: "pkg", Digest: sub, Kind: digest.KindDir},
	}}

	root := filepath.Join(t.TempDir(), "sandbox")
	require.NoError(t, Materialize(context.Background(), st, root, top))

	got, err := os.ReadFile(filepath.Join(root, "pkg", "util.go"))
	require.NoError(t, err)
	require.Equal(t, "nested content", string(got))
}

func TestMaterialize_UnknownFileDigestErrors(t *testing.T) {
	st := newFakeContentStore()
	tree := digest.Directory{Entries: []digest.Entry{
		{Name: "missing.txt", Digest: digest.Of([]byte("never stored")), Kind: digest.KindFile},
	}}
	root := filepath.Join(t.TempDir(), "sandbox")
	err := Materialize(context.Background(), st, root, tree)
	require.Error(t, err)
}

func TestMaterialize_UnknownDirDigestErrors(t *testing.T) {
	st := newFakeContentStore()
	tree := digest.Directory{Entries: []digest.Entry{
		{Name: "missing", Digest: digest.Of([]byte("never stored")), Kind: digest.KindDir},
	}}
	root := filepath.Join(t.TempDir(), "sandbox")
	err := Materialize(context.Background(), st, root, tree)
	require.Error(t, err)
}
