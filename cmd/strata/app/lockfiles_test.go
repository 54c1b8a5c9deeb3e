package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stratabuild/strata/internal/backend"
)

func TestWriteLockfileAtomically_WritesContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "go.lock")

	err := writeLockfileAtomically(backend.LockfileResult{Path: path, Content: []byte("locked deps")})
	require.NoError(t, err)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "locked deps", string(got))
}

func TestWriteLockfileAtomically_CreatesMissingDirs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "deep", "go.lock")

	err := writeLockfileAtomically(backend.LockfileResult{Path: path, Content: []byte("x")})
	require.NoError(t, err)

	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestWriteLockfileAtomically_OverwritesExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "go.lock")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))

	err := writeLockfileAtomically(backend.LockfileResult{Path: path, Content: []byte("new")})
	require.NoError(t, err)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "new", string(got))
}

func TestWriteLockfileAtomically_EmptyPathErrors(t *testing.T) {
	err := writeLockfileAtomically(backend.LockfileResult{Content: []byte("x")})
	require.Error(t, err)
}
