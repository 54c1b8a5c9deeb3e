package rules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stratabuild/strata/internal/graph"
)

func dispatchOK(v any) graph.Dispatch {
	return func(ctx context.Context, key graph.Key, t *graph.Task) (any, error) {
		return v, nil
	}
}

func TestRegistry_SolveAndDispatch(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Rule{
		Name:       "backend.Compile",
		OutputType: "binary",
		InputTypes: []string{"dir"},
		Dispatch:   dispatchOK("compiled"),
	}))
	require.NoError(t, r.Solve())

	dispatch, err := r.Dispatch()
	require.NoError(t, err)

	key := graph.NewKey("binary", graph.StringParam{Tag: "dir", Value: "pkg"})
	v, err := dispatch(context.Background(), key, nil)
	require.NoError(t, err)
	require.Equal(t, "compiled", v)
}

func TestRegistry_Dispatch_NoMatchingRule(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Solve())
	dispatch, err := r.Dispatch()
	require.NoError(t, err)

	_, err = dispatch(context.Background(), graph.NewKey("unknown"), nil)
	require.Error(t, err)
}

func TestRegistry_Register_InvalidDeclaration(t *testing.T) {
	r := NewRegistry()
	err := r.Register(Rule{Name: "", OutputType: "x", Dispatch: dispatchOK(nil)})
	require.Error(t, err)

	err = r.Register(Rule{Name: "x", OutputType: "", Dispatch: dispatchOK(nil)})
	require.Error(t, err)

	err = r.Register(Rule{Name: "x", OutputType: "y", Dispatch: nil})
	require.Error(t, err)
}

func TestRegistry_Register_DuplicateName(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Rule{Name: "dup", OutputType: "a", Dispatch: dispatchOK(nil)}))
	err := r.Register(Rule{Name: "dup", OutputType: "b", Dispatch: dispatchOK(nil)})
	require.Error(t, err)
}

func TestRegistry_Solve_AmbiguousProducerSameInputTypes(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Rule{Name: "a", OutputType: "x", InputTypes: []string{"dir"}, Dispatch: dispatchOK(nil)}))
	require.NoError(t, r.Register(Rule{Name: "b", OutputType: "x", InputTypes: []string{"dir"}, Dispatch: dispatchOK(nil)}))
	err := r.Solve()
	require.Error(t, err)
}

func TestRegistry_Solve_UnsatisfiableGetEdge(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Rule{
		Name:       "a",
		OutputType: "x",
		Gets:       []GetEdge{{Product: "nonexistent", InputTypes: []string{"dir"}}},
		Dispatch:   dispatchOK(nil),
	}))
	err := r.Solve()
	require.Error(t, err)
}

func TestRegistry_Solve_AmbiguousGetEdge(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Rule{Name: "producer1", OutputType: "shared", InputTypes: []string{"a"}, Dispatch: dispatchOK(nil)}))
	require.NoError(t, r.Register(Rule{Name: "producer2", OutputType: "shared", InputTypes: []string{"b"}, Dispatch: dispatchOK(nil)}))
	require.NoError(t, r.Register(Rule{
		Name:       "consumer",
		OutputType: "out",
		Gets:       []GetEdge{{Product: "shared", InputTypes: []string{"a"}}},
		Dispatch:   dispatchOK(nil),
	}))
	// Both producers are unconditionally applicable (empty When) for the
	// "shared" product regardless of declared InputTypes, so the get-edge
	// is ambiguous between them.
	err := r.Solve()
	require.Error(t, err)
}

func TestRegistry_Solve_WhenNarrowsCandidates(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Rule{
		Name: "go-rule", OutputType: "shared", InputTypes: []string{"go"},
		When: `"go" in input_types`, Dispatch: dispatchOK(nil),
	}))
	require.NoError(t, r.Register(Rule{
		Name: "py-rule", OutputType: "shared", InputTypes: []string{"py"},
		When: `"py" in input_types`, Dispatch: dispatchOK(nil),
	}))
	require.NoError(t, r.Register(Rule{
		Name:       "consumer",
		OutputType: "out",
		Gets:       []GetEdge{{Product: "shared", InputTypes: []string{"go"}}},
		Dispatch:   dispatchOK(nil),
	}))
	require.NoError(t, r.Solve())
}

func TestRegistry_Register_InvalidWhenExpression(t *testing.T) {
	r := NewRegistry()
	err := r.Register(Rule{Name: "bad", OutputType: "x", When: "not valid cel ((", Dispatch: dispatchOK(nil)})
	require.Error(t, err)
}

func TestRegistry_Register_AfterSolve_Panics(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Solve())
	require.Panics(t, func() {
		_ = r.Register(Rule{Name: "late", OutputType: "x", Dispatch: dispatchOK(nil)})
	})
}

func TestRegistry_Solve_Twice_Errors(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Solve())
	require.Error(t, r.Solve())
}

func TestRegistry_Dispatch_BeforeSolve_Errors(t *testing.T) {
	r := NewRegistry()
	_, err := r.Dispatch()
	require.Error(t, err)
}

func TestRegistry_Names_Sorted(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Rule{Name: "zebra", OutputType: "x", Dispatch: dispatchOK(nil)}))
	require.NoError(t, r.Register(Rule{Name: "alpha", OutputType: "y", Dispatch: dispatchOK(nil)}))
	require.Equal(t, []string{"alpha", "zebra"}, r.Names())
}
