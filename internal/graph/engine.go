package graph

import (
	"context"
	"errors"
	"reflect"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/stratabuild/strata/internal/digest"
	strataerrors "github.com/stratabuild/strata/internal/errors"
)

// Dispatch executes one node's body: given the node's Key and a Task handle
// for issuing sub-requests, it returns the node's value (§3 "Rule" — "a pure
// function at the design level: for identical inputs the engine assumes
// identical outputs"). It is supplied by the rule registry + intrinsics
// dispatch table (components D and H); the graph engine itself is agnostic
// to what a product type means.
type Dispatch func(ctx context.Context, key Key, t *Task) (any, error)

// DepRecord is one captured sub-request: the key requested and the value it
// returned at the time this node's body last ran to completion.
type DepRecord struct {
	Key   Key
	Value any
}

// Task is handed to a running node's body so it can issue sub-requests,
// report observed filesystem paths (for precise invalidation) and observed
// option-scope fingerprints.
type Task struct {
	eng   *Engine
	stack []Key

	depsM    chan struct{} // guards deps/paths/scopes below
	deps     []DepRecord
	paths    []string
	scopes   map[string]string
}

func newTask(eng *Engine, stack []Key) *Task {
	return &Task{eng: eng, stack: stack, depsM: make(chan struct{}, 1), scopes: make(map[string]string)}
}

func (t *Task) lock()   { t.depsM <- struct{}{} }
func (t *Task) unlock() { <-t.depsM }

// Request issues a sub-request for key, recording the dependency edge and
// returning its value. It rejects any request that would close a cycle with
// CycleError (§4.E "Cycle detection").
func (t *Task) Request(ctx context.Context, key Key) (any, error) {
	for _, s := range t.stack {
		if s.Fingerprint() == key.Fingerprint() {
			return nil, strataerrors.Newf(strataerrors.KindEngine, "%w: %s", strataerrors.ErrCycle, cyclePath(t.stack, key))
		}
	}
	childStack := append(append([]Key{}, t.stack...), key)
	value, err := t.eng.resolve(ctx, key, childStack)
	if err != nil {
		return nil, err
	}
	t.lock()
	t.deps = append(t.deps, DepRecord{Key: key, Value: value})
	t.unlock()
	return value, nil
}

// MarkPath records that this node's computation observed path (e.g. a
// PathGlobs capture or a single file read), used by DrainAndInvalidate.
func (t *Task) MarkPath(path string) {
	t.lock()
	t.paths = append(t.paths, path)
	t.unlock()
}

// MarkScope records that this node's computation depended on an
// option-scope fingerprint, used by InvalidateScope.
func (t *Task) MarkScope(scope, fingerprint string) {
	t.lock()
	t.scopes[scope] = fingerprint
	t.unlock()
}

func cyclePath(stack []Key, closing Key) []string {
	out := make([]string, 0, len(stack)+1)
	for _, k := range stack {
		out = append(out, k.String())
	}
	out = append(out, closing.String())
	return out
}

// Engine is the memoising DAG of component E.
type Engine struct {
	nodes    *xsync.MapOf[string, *Node]
	dispatch Dispatch
}

// New creates an Engine that dispatches node bodies via fn.
func New(fn Dispatch) *Engine {
	return &Engine{nodes: xsync.NewMapOf[string, *Node](), dispatch: fn}
}

// Request resolves key, starting work if needed, and joining any in-flight
// computation for the same key (§4.E "Concurrency": single-flight).
func (e *Engine) Request(ctx context.Context, key Key) (any, error) {
	return e.resolve(ctx, key, []Key{key})
}

func (e *Engine) resolve(ctx context.Context, key Key, stack []Key) (any, error) {
	fp := key.Fingerprint()
	n, _ := e.nodes.LoadOrCompute(fp, func() *Node { return newNode(key) })

	for {
		n.mu.Lock()
		switch n.status {
		case StatusCompleted, StatusFailed:
			deps := append([]Key(nil), n.deps...)
			depVals := n.depValues()
			value, nErr, status := n.value, n.err, n.status
			n.mu.Unlock()

			changed, vErr := e.depsChanged(ctx, deps, depVals, stack)
			if vErr != nil {
				return nil, vErr
			}
			if !changed {
				if status == StatusFailed {
					return nil, nErr
				}
				return value, nil
			}
			n.mu.Lock()
			if n.status == StatusCompleted || n.status == StatusFailed {
				n.status = StatusDirty
			}
			n.mu.Unlock()
			continue

		case StatusDirty, StatusNotStarted:
			done := make(chan struct{})
			cctx, cancel := context.WithCancel(context.Background())
			n.status = StatusRunning
			n.running = &running{cancel: cancel, done: done}
			n.mu.Unlock()
			go e.execute(cctx, n, n.running, stack)

		case StatusRunning:
			r := n.running
			n.mu.Unlock()
			select {
			case <-r.done:
				continue
			case <-ctx.Done():
				return nil, strataerrors.New(strataerrors.KindCancelled, ctx.Err())
			}
		}

		// Reached only from the just-started StatusDirty/StatusNotStarted branch.
		n.mu.Lock()
		r := n.running
		n.mu.Unlock()
		select {
		case <-r.done:
			continue
		case <-ctx.Done():
			return nil, strataerrors.New(strataerrors.KindCancelled, ctx.Err())
		}
	}
}

// depValues returns a copy of the dependency values recorded at completion,
// index-aligned with n.deps; Node.deps/Node.depVals are kept in lockstep by
// execute().
func (n *Node) depValues() []any {
	return append([]any(nil), n.depVals...)
}

func (e *Engine) depsChanged(ctx context.Context, deps []Key, priorValues []any, stack []Key) (bool, error) {
	for i, dep := range deps {
		childStack := append(append([]Key{}, stack...), dep)
		current, err := e.resolve(ctx, dep, childStack)
		if err != nil {
			return false, err
		}
		if !valuesEqual(current, priorValues[i]) {
			return true, nil
		}
	}
	return false, nil
}

func valuesEqual(a, b any) bool {
	if da, ok := a.(digest.Digest); ok {
		if db, ok2 := b.(digest.Digest); ok2 {
			return da == db
		}
	}
	return reflect.DeepEqual(a, b)
}

func (e *Engine) execute(ctx context.Context, n *Node, r *running, stack []Key) {
	defer close(r.done)

	t := newTask(e, stack)
	value, err := e.runBody(ctx, n.Key, t)

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.running != r {
		return // superseded by a concurrent Clear or re-dispatch
	}

	switch {
	case err == nil:
		n.status = StatusCompleted
		n.value = value
		n.err = nil
		n.deps = keysOf(t.deps)
		n.depVals = valuesOf(t.deps)
		n.observedPaths = toSet(t.paths)
		n.scopeFingerprints = t.scopes
		n.running = nil
	case errors.Is(err, context.Canceled) || strataerrors.IsCancelled(err):
		n.status = StatusNotStarted
		n.value, n.err, n.deps, n.depVals = nil, nil, nil, nil
		n.running = nil
	case strataerrors.Memoisable(err):
		n.status = StatusFailed
		n.err = err
		n.value = nil
		n.deps = keysOf(t.deps)
		n.depVals = valuesOf(t.deps)
		n.running = nil
	default:
		n.status = StatusNotStarted
		n.value, n.err, n.deps, n.depVals = nil, nil, nil, nil
		n.running = nil
	}
}

func (e *Engine) runBody(ctx context.Context, key Key, t *Task) (value any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = strataerrors.Newf(strataerrors.KindEngine, "panic in rule body for %s: %v", key, p)
		}
	}()
	if ctx.Err() != nil {
		return nil, strataerrors.New(strataerrors.KindCancelled, ctx.Err())
	}
	return e.dispatch(ctx, key, t)
}

func keysOf(deps []DepRecord) []Key {
	out := make([]Key, len(deps))
	for i, d := range deps {
		out[i] = d.Key
	}
	return out
}

func valuesOf(deps []DepRecord) []any {
	out := make([]any, len(deps))
	for i, d := range deps {
		out[i] = d.Value
	}
	return out
}

func toSet(paths []string) map[string]struct{} {
	m := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		m[p] = struct{}{}
	}
	return m
}

// DrainAndInvalidate marks every node whose observed path set intersects
// paths as Dirty (§4.E "drain_and_invalidate").
func (e *Engine) DrainAndInvalidate(paths []string) {
	changed := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		changed[p] = struct{}{}
	}
	e.nodes.Range(func(_ string, n *Node) bool {
		n.mu.Lock()
		if n.status == StatusCompleted || n.status == StatusFailed {
			for p := range n.observedPaths {
				if _, hit := changed[p]; hit {
					n.status = StatusDirty
					break
				}
			}
		}
		n.mu.Unlock()
		return true
	})
}

// InvalidateScope marks every node that observed scope at a different
// fingerprint as Dirty (§4.E "Dirtying" source (ii)).
func (e *Engine) InvalidateScope(scope, newFingerprint string) {
	e.nodes.Range(func(_ string, n *Node) bool {
		n.mu.Lock()
		if (n.status == StatusCompleted || n.status == StatusFailed) && n.scopeFingerprints != nil {
			if fp, ok := n.scopeFingerprints[scope]; ok && fp != newFingerprint {
				n.status = StatusDirty
			}
		}
		n.mu.Unlock()
		return true
	})
}

// Clear discards all memoised state; used for fatal consistency violations
// (§4.E "clear").
func (e *Engine) Clear() {
	e.nodes = xsync.NewMapOf[string, *Node]()
}

// CancelAll cancels every currently-running node, used by session teardown
// (§5 "Cancellation": "a session that is torn down cancels all of its
// outstanding futures").
func (e *Engine) CancelAll() {
	e.nodes.Range(func(_ string, n *Node) bool {
		n.mu.Lock()
		if n.status == StatusRunning && n.running != nil {
			n.running.cancel()
		}
		n.mu.Unlock()
		return true
	})
}

// Status returns the current status of a node, for diagnostics/tests.
func (e *Engine) Status(key Key) (Status, bool) {
	n, ok := e.nodes.Load(key.Fingerprint())
	if !ok {
		return StatusNotStarted, false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.status, true
}

// Dependents walks the node cache backwards from key and returns every node
// that (transitively, when transitive is true) captured key as a
// dependency the last time its body ran (the `dependees` goal's graph
// query, §3 SUPPLEMENTED FEATURES: "a graph query, not a rule execution").
// It only sees edges captured by nodes that have actually been requested at
// least once in this process; a node nobody has asked for yet contributes
// no edges.
func (e *Engine) Dependents(key Key, transitive bool) []Key {
	direct := func(targets map[string]struct{}) map[string]Key {
		found := make(map[string]Key)
		e.nodes.Range(func(_ string, n *Node) bool {
			n.mu.Lock()
			k, deps := n.Key, append([]Key(nil), n.deps...)
			n.mu.Unlock()
			for _, dk := range deps {
				if _, want := targets[dk.Fingerprint()]; want {
					found[k.Fingerprint()] = k
				}
			}
			return true
		})
		return found
	}

	frontier := map[string]struct{}{key.Fingerprint(): {}}
	seen := make(map[string]Key)
	for {
		found := direct(frontier)
		next := map[string]struct{}{}
		added := false
		for fp, k := range found {
			if _, already := seen[fp]; !already {
				seen[fp] = k
				next[fp] = struct{}{}
				added = true
			}
		}
		if !added || !transitive {
			break
		}
		frontier = next
	}

	out := make([]Key, 0, len(seen))
	for _, k := range seen {
		out = append(out, k)
	}
	return out
}
