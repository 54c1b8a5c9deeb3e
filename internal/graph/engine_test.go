package graph

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	strataerrors "github.com/stratabuild/strata/internal/errors"
)

func leafKey(name string) Key {
	return NewKey("leaf", StringParam{Tag: "name", Value: name})
}

func TestEngine_Request_MemoisesAndDoesNotReRun(t *testing.T) {
	var calls int32
	eng := New(func(ctx context.Context, key Key, task *Task) (any, error) {
		atomic.AddInt32(&calls, 1)
		return key.Product, nil
	})

	k := leafKey("a")
	v1, err := eng.Request(context.Background(), k)
	require.NoError(t, err)
	v2, err := eng.Request(context.Background(), k)
	require.NoError(t, err)
	require.Equal(t, v1, v2)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestEngine_Request_DependencyCaptureAndDirtying(t *testing.T) {
	var leafCalls, rootCalls int32
	leafVal := "v1"

	root := NewKey("root")
	leaf := leafKey("watched")

	eng := New(func(ctx context.Context, key Key, task *Task) (any, error) {
		switch key.Product {
		case "leaf":
			atomic.AddInt32(&leafCalls, 1)
			task.MarkPath("watched-file")
			return leafVal, nil
		case "root":
			atomic.AddInt32(&rootCalls, 1)
			v, err := task.Request(context.Background(), leaf)
			if err != nil {
				return nil, err
			}
			return "root:" + v.(string), nil
		}
		return nil, strataerrors.Newf(strataerrors.KindEngine, "unknown product %s", key.Product)
	})

	v, err := eng.Request(context.Background(), root)
	require.NoError(t, err)
	require.Equal(t, "root:v1", v)
	require.Equal(t, int32(1), atomic.LoadInt32(&rootCalls))

	// Re-request without invalidation: fully memoised, no re-run.
	v, err = eng.Request(context.Background(), root)
	require.NoError(t, err)
	require.Equal(t, "root:v1", v)
	require.Equal(t, int32(1), atomic.LoadInt32(&rootCalls))
	require.Equal(t, int32(1), atomic.LoadInt32(&leafCalls))

	// Invalidate the observed path and change what the leaf returns.
	leafVal = "v2"
	eng.DrainAndInvalidate([]string{"watched-file"})

	status, ok := eng.Status(leaf)
	require.True(t, ok)
	require.Equal(t, StatusDirty, status)

	v, err = eng.Request(context.Background(), root)
	require.NoError(t, err)
	require.Equal(t, "root:v2", v)
	require.Equal(t, int32(2), atomic.LoadInt32(&rootCalls))
	require.Equal(t, int32(2), atomic.LoadInt32(&leafCalls))
}

func TestEngine_InvalidateScope(t *testing.T) {
	fp := "fp1"
	eng := New(func(ctx context.Context, key Key, task *Task) (any, error) {
		task.MarkScope("core", fp)
		return "value", nil
	})

	k := NewKey("scoped")
	_, err := eng.Request(context.Background(), k)
	require.NoError(t, err)

	status, _ := eng.Status(k)
	require.Equal(t, StatusCompleted, status)

	eng.InvalidateScope("core", fp) // unchanged fingerprint: no-op
	status, _ = eng.Status(k)
	require.Equal(t, StatusCompleted, status)

	eng.InvalidateScope("core", "fp2")
	status, _ = eng.Status(k)
	require.Equal(t, StatusDirty, status)
}

func TestEngine_CycleDetection(t *testing.T) {
	a := NewKey("a")
	b := NewKey("b")
	eng := New(func(ctx context.Context, key Key, task *Task) (any, error) {
		switch key.Product {
		case "a":
			return task.Request(context.Background(), b)
		case "b":
			return task.Request(context.Background(), a)
		}
		return nil, nil
	})

	_, err := eng.Request(context.Background(), a)
	require.Error(t, err)
	require.ErrorIs(t, err, strataerrors.ErrCycle)
}

func TestEngine_Dependents(t *testing.T) {
	leaf := leafKey("shared")
	mid := NewKey("mid")
	top := NewKey("top")

	eng := New(func(ctx context.Context, key Key, task *Task) (any, error) {
		switch key.Product {
		case "leaf":
			return "v", nil
		case "mid":
			return task.Request(context.Background(), leaf)
		case "top":
			return task.Request(context.Background(), mid)
		}
		return nil, nil
	})

	_, err := eng.Request(context.Background(), top)
	require.NoError(t, err)

	direct := eng.Dependents(leaf, false)
	require.Len(t, direct, 1)
	require.Equal(t, mid.Fingerprint(), direct[0].Fingerprint())

	transitive := eng.Dependents(leaf, true)
	fps := map[string]struct{}{}
	for _, k := range transitive {
		fps[k.Fingerprint()] = struct{}{}
	}
	require.Contains(t, fps, mid.Fingerprint())
	require.Contains(t, fps, top.Fingerprint())
	require.Len(t, transitive, 2)
}

func TestEngine_Dependents_UnknownKeyReturnsEmpty(t *testing.T) {
	eng := New(func(ctx context.Context, key Key, task *Task) (any, error) { return nil, nil })
	require.Empty(t, eng.Dependents(leafKey("nobody-asked"), true))
}

func TestEngine_ClearDiscardsMemoisedState(t *testing.T) {
	var calls int32
	k := NewKey("x")
	eng := New(func(ctx context.Context, key Key, task *Task) (any, error) {
		atomic.AddInt32(&calls, 1)
		return nil, nil
	})
	_, _ = eng.Request(context.Background(), k)
	eng.Clear()
	_, ok := eng.Status(k)
	require.False(t, ok)
	_, _ = eng.Request(context.Background(), k)
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestKey_FingerprintOrderIndependent(t *testing.T) {
	k1 := NewKey("p", StringParam{Tag: "a", Value: "1"}, StringParam{Tag: "b", Value: "2"})
	k2 := NewKey("p", StringParam{Tag: "b", Value: "2"}, StringParam{Tag: "a", Value: "1"})
	require.Equal(t, k1.Fingerprint(), k2.Fingerprint())

	k3 := NewKey("p", StringParam{Tag: "a", Value: "3"})
	require.NotEqual(t, k1.Fingerprint(), k3.Fingerprint())
}
