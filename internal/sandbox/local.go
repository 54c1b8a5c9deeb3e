package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/rs/zerolog"

	strataerrors "github.com/stratabuild/strata/internal/errors"
)

// Strategy turns a materialised sandbox into a Result by actually running
// the process (§4.G "Strategies": "at minimum a local strategy ... a remote
// strategy is optional").
type Strategy interface {
	Run(ctx context.Context, sandboxRoot string, p Process) (stdout, stderr []byte, exitCode int, timedOut bool, err error)
}

// LocalStrategy spawns argv[0] directly on this host, bounding concurrent
// sandboxes with an independent semaphore (§4.G "Concurrency").
type LocalStrategy struct {
	sem    chan struct{}
	policy *EnvPolicy
}

// NewLocalStrategy creates a LocalStrategy bounding concurrency to maxProcs
// (0 means runtime.NumCPU()).
func NewLocalStrategy(maxProcs int, policy *EnvPolicy) *LocalStrategy {
	if maxProcs <= 0 {
		maxProcs = runtime.NumCPU()
	}
	return &LocalStrategy{sem: make(chan struct{}, maxProcs), policy: policy}
}

// Run implements Strategy.
func (l *LocalStrategy) Run(ctx context.Context, sandboxRoot string, p Process) ([]byte, []byte, int, bool, error) {
	select {
	case l.sem <- struct{}{}:
		defer func() { <-l.sem }()
	case <-ctx.Done():
		return nil, nil, -1, false, strataerrors.New(strataerrors.KindCancelled, ctx.Err())
	}

	if len(p.Argv) == 0 {
		return nil, nil, -1, false, strataerrors.Newf(strataerrors.KindUser, "sandbox: empty argv")
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if p.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	env, err := l.filterEnv(p.Env)
	if err != nil {
		return nil, nil, -1, false, err
	}

	workDir := sandboxRoot
	if p.WorkDir != "" {
		workDir = filepath.Join(sandboxRoot, p.WorkDir)
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, nil, -1, false, strataerrors.New(strataerrors.KindIO, err)
	}

	for mountPath, hostPath := range p.AppendOnlyCaches {
		dst := filepath.Join(sandboxRoot, mountPath)
		if err := os.MkdirAll(hostPath, 0o755); err != nil {
			return nil, nil, -1, false, strataerrors.New(strataerrors.KindIO, err)
		}
		if err := os.Symlink(hostPath, dst); err != nil && !os.IsExist(err) {
			return nil, nil, -1, false, strataerrors.New(strataerrors.KindIO, err)
		}
	}

	cmd := exec.CommandContext(runCtx, p.Argv[0], p.Argv[1:]...)
	cmd.Dir = workDir
	cmd.Env = env
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	zerolog.Ctx(ctx).Debug().Strs("argv", p.Argv).Str("workdir", workDir).Msg("sandbox: spawning process")

	runErr := cmd.Run()
	if runCtx.Err() != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return stdout.Bytes(), stderr.Bytes(), -1, true, nil
	}
	if ctx.Err() != nil {
		return nil, nil, -1, false, strataerrors.New(strataerrors.KindCancelled, ctx.Err())
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		return stdout.Bytes(), stderr.Bytes(), exitErr.ExitCode(), false, nil
	}
	if runErr != nil {
		return nil, nil, -1, false, strataerrors.New(strataerrors.KindIO, fmt.Errorf("sandbox: spawning %v: %w", p.Argv, runErr))
	}
	return stdout.Bytes(), stderr.Bytes(), 0, false, nil
}

func (l *LocalStrategy) filterEnv(env map[string]string) ([]string, error) {
	out := make([]string, 0, len(env))
	for k, v := range env {
		if l.policy != nil {
			allowed, err := l.policy.Allow(k)
			if err != nil {
				return nil, err
			}
			if !allowed {
				continue
			}
		}
		out = append(out, k+"="+v)
	}
	return out, nil
}
