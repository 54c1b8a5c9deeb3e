package globs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func compiled(t *testing.T, g PathGlobs) *PathGlobs {
	t.Helper()
	require.NoError(t, g.Compile())
	return &g
}

func TestPathGlobs_ConjunctionAll(t *testing.T) {
	g := compiled(t, PathGlobs{
		Includes:    []string{"**/*.go", "src/**"},
		Conjunction: ConjunctionAll,
	})
	require.True(t, g.Matches("src/main.go"))
	require.False(t, g.Matches("main.go"))
	require.False(t, g.Matches("src/README.md"))
}

func TestPathGlobs_ConjunctionAny(t *testing.T) {
	g := compiled(t, PathGlobs{
		Includes:    []string{"*.go", "*.md"},
		Conjunction: ConjunctionAny,
	})
	require.True(t, g.Matches("main.go"))
	require.True(t, g.Matches("README.md"))
	require.False(t, g.Matches("main.py"))
}

func TestPathGlobs_Excludes(t *testing.T) {
	g := compiled(t, PathGlobs{
		Includes: []string{"**/*.go"},
		Excludes: []string{"**/*_test.go"},
	})
	require.True(t, g.Matches("pkg/main.go"))
	require.False(t, g.Matches("pkg/main_test.go"))
}

func TestPathGlobs_NoIncludesMatchesNothing(t *testing.T) {
	g := compiled(t, PathGlobs{})
	require.False(t, g.Matches("anything"))
}

func TestPathGlobs_CompileInvalidPattern(t *testing.T) {
	g := PathGlobs{Includes: []string{"["}}
	require.Error(t, g.Compile())
}

func TestPathGlobs_Fingerprint_Deterministic(t *testing.T) {
	g1 := PathGlobs{Includes: []string{"a", "b"}, Excludes: []string{"c"}, Conjunction: ConjunctionAny}
	g2 := PathGlobs{Includes: []string{"a", "b"}, Excludes: []string{"c"}, Conjunction: ConjunctionAny}
	require.Equal(t, g1.Fingerprint(), g2.Fingerprint())

	g3 := PathGlobs{Includes: []string{"a", "b"}, Excludes: []string{"d"}, Conjunction: ConjunctionAny}
	require.NotEqual(t, g1.Fingerprint(), g3.Fingerprint())
}

func TestPathGlobs_MayContain(t *testing.T) {
	g := compiled(t, PathGlobs{
		Includes: []string{"**/*.go"},
		Excludes: []string{"vendor"},
	})
	require.False(t, g.MayContain("vendor"))
	require.True(t, g.MayContain("pkg"))
}
