package sandbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stratabuild/strata/internal/digest"
)

func newExecutor(t *testing.T, cache Cache) (*Executor, *fakeContentStore) {
	t.Helper()
	st := newFakeContentStore()
	emptyDir := st.putDir(digest.Directory{})
	local := NewLocalStrategy(2, nil)
	exec := NewExecutor(st, cache, local, nil, t.TempDir())
	_ = emptyDir
	return exec, st
}

func TestExecutor_Execute_RunsAndCollectsOutput(t *testing.T) {
	exec, st := newExecutor(t, NewMemoryCache())
	inputDigest := st.putDir(digest.Directory{})

	result, err := exec.Execute(context.Background(), Process{
		Argv:            []string{"/bin/sh", "-c", "echo built > out.txt"},
		InputDigest:     inputDigest,
		OutputFilePaths: []string{"out.txt"},
	})
	require.NoError(t, err)
	require.Equal(t, 0, result.ExitCode)
	require.False(t, result.OutputDigest.IsZero())

	tree, ok, err := st.LoadDirectory(context.Background(), result.OutputDigest)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, tree.Entries, 1)
	require.Equal(t, "out.txt", tree.Entries[0].Name)
}

func TestExecutor_Execute_CacheHitSkipsRun(t *testing.T) {
	cache := NewMemoryCache()
	exec, st := newExecutor(t, cache)
	inputDigest := st.putDir(digest.Directory{})

	p := Process{
		Argv:        []string{"/bin/sh", "-c", "exit 0"},
		InputDigest: inputDigest,
		CacheScope:  CacheScopeSuccessful,
	}

	r1, err := exec.Execute(context.Background(), p)
	require.NoError(t, err)

	cached, ok, err := cache.Get(context.Background(), p.Fingerprint())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, r1, cached)

	r2, err := exec.Execute(context.Background(), p)
	require.NoError(t, err)
	require.Equal(t, r1, r2)
}

func TestExecutor_Execute_FailOnNonzeroReturnsError(t *testing.T) {
	exec, st := newExecutor(t, nil)
	inputDigest := st.putDir(digest.Directory{})

	_, err := exec.Execute(context.Background(), Process{
		Argv:          []string{"/bin/sh", "-c", "exit 3"},
		InputDigest:   inputDigest,
		FailOnNonzero: true,
	})
	require.Error(t, err)
}

func TestExecutor_Execute_UnknownInputDigestErrors(t *testing.T) {
	exec, _ := newExecutor(t, nil)
	_, err := exec.Execute(context.Background(), Process{
		Argv:        []string{"/bin/sh", "-c", "true"},
		InputDigest: digest.Of([]byte("never stored")),
	})
	require.Error(t, err)
}

func TestExecutor_Execute_NeverCachedWhenScopeIsNever(t *testing.T) {
	cache := NewMemoryCache()
	exec, st := newExecutor(t, cache)
	inputDigest := st.putDir(digest.Directory{})

	p := Process{
		Argv:        []string{"/bin/sh", "-c", "true"},
		InputDigest: inputDigest,
		CacheScope:  CacheScopeNever,
	}
	_, err := exec.Execute(context.Background(), p)
	require.NoError(t, err)

	_, ok, err := cache.Get(context.Background(), p.Fingerprint())
	require.NoError(t, err)
	require.False(t, ok)
}
