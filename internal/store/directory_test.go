package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stratabuild/strata/internal/digest"
	"github.com/stratabuild/strata/internal/globs"
)

func storeDir(t *testing.T, s *Store, entries []digest.Entry) digest.Digest {
	t.Helper()
	d, err := s.StoreDirectory(context.Background(), digest.Directory{Entries: entries})
	require.NoError(t, err)
	return d
}

func TestMergeDirectories_UnionOfDisjointEntries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fa, _ := s.StoreBytes(ctx, []byte("a"))
	fb, _ := s.StoreBytes(ctx, []byte("b"))
	d1 := storeDir(t, s, []digest.Entry{{Name: "a.txt", Digest: fa, Kind: digest.KindFile}})
	d2 := storeDir(t, s, []digest.Entry{{Name: "b.txt", Digest: fb, Kind: digest.KindFile}})

	merged, err := s.MergeDirectories(ctx, []digest.Digest{d1, d2})
	require.NoError(t, err)

	tree, ok, err := s.LoadDirectory(ctx, merged)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, tree.Entries, 2)
}

func TestMergeDirectories_IdenticalOverlapIsFine(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fa, _ := s.StoreBytes(ctx, []byte("a"))
	entries := []digest.Entry{{Name: "a.txt", Digest: fa, Kind: digest.KindFile}}
	d1 := storeDir(t, s, entries)
	d2 := storeDir(t, s, entries)

	merged, err := s.MergeDirectories(ctx, []digest.Digest{d1, d2})
	require.NoError(t, err)
	tree, _, _ := s.LoadDirectory(ctx, merged)
	require.Len(t, tree.Entries, 1)
}

func TestMergeDirectories_ConflictingContentErrors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fa, _ := s.StoreBytes(ctx, []byte("a"))
	fb, _ := s.StoreBytes(ctx, []byte("different"))
	d1 := storeDir(t, s, []digest.Entry{{Name: "same.txt", Digest: fa, Kind: digest.KindFile}})
	d2 := storeDir(t, s, []digest.Entry{{Name: "same.txt", Digest: fb, Kind: digest.KindFile}})

	_, err := s.MergeDirectories(ctx, []digest.Digest{d1, d2})
	require.Error(t, err)
}

func TestMergeDirectories_RecursesIntoSharedSubdirs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fa, _ := s.StoreBytes(ctx, []byte("a"))
	fb, _ := s.StoreBytes(ctx, []byte("b"))
	sub1 := storeDir(t, s, []digest.Entry{{Name: "a.txt", Digest: fa, Kind: digest.KindFile}})
	sub2 := storeDir(t, s, []digest.Entry{{Name: "b.txt", Digest: fb, Kind: digest.KindFile}})

	d1 := storeDir(t, s, []digest.Entry{{Name: "sub", Digest: sub1, Kind: digest.KindDir}})
	d2 := storeDir(t, s, []digest.Entry{{Name: "sub", Digest: sub2, Kind: digest.KindDir}})

	merged, err := s.MergeDirectories(ctx, []digest.Digest{d1, d2})
	require.NoError(t, err)

	tree, _, _ := s.LoadDirectory(ctx, merged)
	require.Len(t, tree.Entries, 1)
	subTree, ok, err := s.LoadDirectory(ctx, tree.Entries[0].Digest)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, subTree.Entries, 2)
}

func TestSubset_FiltersByGlob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fa, _ := s.StoreBytes(ctx, []byte("go source"))
	fb, _ := s.StoreBytes(ctx, []byte("readme"))
	d := storeDir(t, s, []digest.Entry{
		{Name: "main.go", Digest: fa, Kind: digest.KindFile},
		{Name: "README.md", Digest: fb, Kind: digest.KindFile},
	})

	g := globs.PathGlobs{Includes: []string{"*.go"}}
	require.NoError(t, g.Compile())

	subset, err := s.Subset(ctx, d, g)
	require.NoError(t, err)

	tree, ok, err := s.LoadDirectory(ctx, subset)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, tree.Entries, 1)
	require.Equal(t, "main.go", tree.Entries[0].Name)
}

func TestSubset_PrunesEmptyDirs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fb, _ := s.StoreBytes(ctx, []byte("readme"))
	sub := storeDir(t, s, []digest.Entry{{Name: "README.md", Digest: fb, Kind: digest.KindFile}})
	root := storeDir(t, s, []digest.Entry{{Name: "docs", Digest: sub, Kind: digest.KindDir}})

	g := globs.PathGlobs{Includes: []string{"*.go"}}
	require.NoError(t, g.Compile())

	subset, err := s.Subset(ctx, root, g)
	require.NoError(t, err)
	tree, _, _ := s.LoadDirectory(ctx, subset)
	require.Empty(t, tree.Entries)
}
