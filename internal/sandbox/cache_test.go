package sandbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stratabuild/strata/internal/digest"
)

func sampleResult() Result {
	return Result{
		ExitCode:     0,
		StdoutDigest: digest.Of([]byte("stdout")),
		StderrDigest: digest.Of([]byte("stderr")),
		OutputDigest: digest.Of([]byte("outputs")),
	}
}

func TestMemoryCache_PutGet_Roundtrip(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "fp1")
	require.NoError(t, err)
	require.False(t, ok)

	want := sampleResult()
	require.NoError(t, c.Put(ctx, "fp1", want))

	got, ok, err := c.Get(ctx, "fp1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, want, got)
}

func TestDiskCache_PutGet_Roundtrip(t *testing.T) {
	c, err := NewDiskCache(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	want := sampleResult()
	require.NoError(t, c.Put(ctx, "fp2", want))

	got, ok, err := c.Get(ctx, "fp2")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, want, got)
}

func TestDiskCache_Get_Missing(t *testing.T) {
	c, err := NewDiskCache(t.TempDir())
	require.NoError(t, err)
	_, ok, err := c.Get(context.Background(), "never-put")
	require.NoError(t, err)
	require.False(t, ok)
}

type trackingCache struct {
	gets, puts int
	inner      Cache
}

func (t *trackingCache) Get(ctx context.Context, fp string) (Result, bool, error) {
	t.gets++
	return t.inner.Get(ctx, fp)
}

func (t *trackingCache) Put(ctx context.Context, fp string, r Result) error {
	t.puts++
	return t.inner.Put(ctx, fp, r)
}

func TestLayeredCache_HitInSlowerLayerPopulatesFasterLayer(t *testing.T) {
	fast := &trackingCache{inner: NewMemoryCache()}
	slow := &trackingCache{inner: NewMemoryCache()}
	layered := NewLayeredCache(fast, slow)
	ctx := context.Background()

	want := sampleResult()
	require.NoError(t, slow.Put(ctx, "fp3", want))

	got, ok, err := layered.Get(ctx, "fp3")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, want, got)

	fastGot, ok, err := fast.Get(ctx, "fp3")
	require.NoError(t, err)
	require.True(t, ok, "fast layer should be populated after a slow-layer hit")
	require.Equal(t, want, fastGot)
}

func TestLayeredCache_Miss_WhenAbsentFromAllLayers(t *testing.T) {
	layered := NewLayeredCache(NewMemoryCache(), NewMemoryCache())
	_, ok, err := layered.Get(context.Background(), "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLayeredCache_Put_WritesEveryLayer(t *testing.T) {
	l1, l2 := NewMemoryCache(), NewMemoryCache()
	layered := NewLayeredCache(l1, l2)
	ctx := context.Background()

	want := sampleResult()
	require.NoError(t, layered.Put(ctx, "fp4", want))

	got1, ok, _ := l1.Get(ctx, "fp4")
	require.True(t, ok)
	require.Equal(t, want, got1)

	got2, ok, _ := l2.Get(ctx, "fp4")
	require.True(t, ok)
	require.Equal(t, want, got2)
}
