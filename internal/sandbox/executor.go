package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	strataerrors "github.com/stratabuild/strata/internal/errors"
)

// fullStore is the subset of *store.Store the executor needs across
// materialisation, output capture and the local sandbox lifecycle.
type fullStore interface {
	contentStore
	outputStore
}

// Executor runs the seven-step pipeline of §4.G end to end.
type Executor struct {
	store   fullStore
	cache   Cache
	local   Strategy
	remote  *RemoteStrategy
	sandboxRoot string
}

// NewExecutor builds an Executor over st, caching results in cache and
// running locally via local (remote may be nil when no remote strategy is
// configured).
func NewExecutor(st fullStore, cache Cache, local Strategy, remote *RemoteStrategy, sandboxRoot string) *Executor {
	return &Executor{store: st, cache: cache, local: local, remote: remote, sandboxRoot: sandboxRoot}
}

// Execute runs p to a Result, following §4.G's pipeline: cache lookup,
// sandbox materialisation, spawn, output capture, cache insert, cleanup.
func (e *Executor) Execute(ctx context.Context, p Process) (Result, error) {
	fp := p.Fingerprint()
	logger := zerolog.Ctx(ctx).With().Str("fingerprint", fp).Logger()

	if p.CacheScope != CacheScopeNever && e.cache != nil {
		if r, ok, err := e.cache.Get(ctx, fp); err == nil && ok {
			logger.Debug().Msg("sandbox: process cache hit")
			return r, nil
		}
	}

	if p.ExecutionStrategy == "remote" && e.remote != nil {
		r, err := e.remote.Request(ctx, fp, p)
		if err != nil {
			return Result{}, err
		}
		if err := e.maybeCache(ctx, fp, p, r); err != nil {
			return Result{}, err
		}
		return r, nil
	}

	root := filepath.Join(e.sandboxRoot, fp)
	tree, ok, err := e.store.LoadDirectory(ctx, p.InputDigest)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, strataerrors.Newf(strataerrors.KindEngine, "%w: input %s", strataerrors.ErrUnknownDigest, p.InputDigest)
	}
	if err := Materialize(ctx, e.store, root, tree); err != nil {
		return Result{}, strataerrors.New(strataerrors.KindIO, fmt.Errorf("sandbox: materialising %s: %w", root, err))
	}
	if !p.RetainSandbox {
		defer os.RemoveAll(root)
	}

	stdout, stderr, exitCode, timedOut, err := e.local.Run(ctx, root, p)
	if err != nil {
		return Result{}, err
	}

	var result Result
	result.TimedOut = timedOut
	if timedOut {
		result.ExitCode = -1
		return result, nil
	}
	result.ExitCode = exitCode

	if result.StdoutDigest, err = e.store.StoreBytes(ctx, stdout); err != nil {
		return Result{}, err
	}
	if result.StderrDigest, err = e.store.StoreBytes(ctx, stderr); err != nil {
		return Result{}, err
	}
	outDigest, err := collectOutputs(ctx, e.store, root, p)
	if err != nil {
		return Result{}, err
	}
	result.OutputDigest = outDigest

	if exitCode != 0 && p.FailOnNonzero {
		return result, strataerrors.Newf(strataerrors.KindUser, "sandbox: process exited %d: %v", exitCode, p.Argv)
	}

	if err := e.maybeCache(ctx, fp, p, result); err != nil {
		return Result{}, err
	}
	return result, nil
}

func (e *Executor) maybeCache(ctx context.Context, fp string, p Process, r Result) error {
	if e.cache == nil || !Cacheable(p.CacheScope, r.ExitCode) {
		return nil
	}
	return e.cache.Put(ctx, fp, r)
}
