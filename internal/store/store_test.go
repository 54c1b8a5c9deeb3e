package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stratabuild/strata/internal/digest"
	strataerrors "github.com/stratabuild/strata/internal/errors"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := New(t.TempDir(), opts...)
	require.NoError(t, err)
	return s
}

func TestStore_StoreAndLoadBytes_Roundtrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	d, err := s.StoreBytes(ctx, []byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, digest.Of([]byte("hello world")), d)

	got, ok, err := s.LoadBytes(ctx, d)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("hello world"), got)
}

func TestStore_LoadBytes_Missing(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.LoadBytes(context.Background(), digest.Of([]byte("never stored")))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStore_StoreBytes_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	d1, err := s.StoreBytes(ctx, []byte("same content"))
	require.NoError(t, err)
	d2, err := s.StoreBytes(ctx, []byte("same content"))
	require.NoError(t, err)
	require.Equal(t, d1, d2)
}

func TestStore_LoadBytes_CorruptionDetected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	d, err := s.StoreBytes(ctx, []byte("original"))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(s.BlobPath(d), []byte("tampered!"), 0o644))

	_, _, err = s.LoadBytes(ctx, d)
	require.Error(t, err)
	require.Equal(t, strataerrors.KindEngine, strataerrors.KindOf(err))
}

func TestStore_StoreAndLoadDirectory_Roundtrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tree := digest.Directory{Entries: []digest.Entry{
		{Name: "a.txt", Digest: digest.Of([]byte("a")), Kind: digest.KindFile},
		{Name: "b.txt", Digest: digest.Of([]byte("b")), Kind: digest.KindFile, IsExecutable: true},
	}}
	d, err := s.StoreDirectory(ctx, tree)
	require.NoError(t, err)

	got, ok, err := s.LoadDirectory(ctx, d)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, tree, got)
}

func TestStore_StoreDirectory_RejectsInvalidTree(t *testing.T) {
	s := newTestStore(t)
	bad := digest.Directory{Entries: []digest.Entry{{Name: "b"}, {Name: "a"}}}
	_, err := s.StoreDirectory(context.Background(), bad)
	require.Error(t, err)
	require.Equal(t, strataerrors.KindUser, strataerrors.KindOf(err))
}

func TestStore_Lease_PreventsReap(t *testing.T) {
	s := newTestStore(t, WithHighWaterMark(1))
	ctx := context.Background()

	leased, err := s.StoreBytes(ctx, []byte("leased content"))
	require.NoError(t, err)
	unleased, err := s.StoreBytes(ctx, []byte("unleased content"))
	require.NoError(t, err)

	release := s.Lease(leased, time.Hour)
	defer release()

	evicted, err := s.Reap(time.Now().Add(48 * time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, evicted)

	_, ok, err := s.LoadBytes(ctx, leased)
	require.NoError(t, err)
	require.True(t, ok, "leased blob must survive Reap")

	_, ok, err = s.LoadBytes(ctx, unleased)
	require.NoError(t, err)
	require.False(t, ok, "unleased blob should have been evicted")
}

func TestStore_Reap_BelowHighWaterMarkIsNoop(t *testing.T) {
	s := newTestStore(t) // default 10 GiB high-water mark
	ctx := context.Background()
	d, err := s.StoreBytes(ctx, []byte("small"))
	require.NoError(t, err)

	evicted, err := s.Reap(time.Now())
	require.NoError(t, err)
	require.Equal(t, 0, evicted)

	_, ok, err := s.LoadBytes(ctx, d)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestStore_Lease_ReleaseAllowsReap(t *testing.T) {
	s := newTestStore(t, WithHighWaterMark(1))
	ctx := context.Background()
	d, err := s.StoreBytes(ctx, []byte("releasable"))
	require.NoError(t, err)

	release := s.Lease(d, time.Millisecond)
	release()

	evicted, err := s.Reap(time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, evicted)
}
