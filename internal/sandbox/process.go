// Package sandbox implements the process executor (component G): turning a
// Process description into a Process result via a hermetic sandbox,
// content-addressed input materialisation, and a pluggable local/remote
// execution strategy with a fingerprint-keyed cache.
package sandbox

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/stratabuild/strata/internal/digest"
)

// CacheScope controls whether a Process result is eligible for the process
// cache (§4.G "Cache insert").
type CacheScope int

const (
	// CacheScopeSuccessful caches only zero-exit results (the default).
	CacheScopeSuccessful CacheScope = iota
	// CacheScopeAlways caches regardless of exit code (cache_failures = true).
	CacheScopeAlways
	// CacheScopeNever disables caching for this process entirely.
	CacheScopeNever
)

// Process is the input to the executor (§3 "Process description").
type Process struct {
	Argv    []string
	Env     map[string]string
	WorkDir string

	InputDigest      digest.Digest
	OutputFilePaths  []string
	OutputDirPaths   []string

	Timeout time.Duration

	// AppendOnlyCaches names host-side directories mounted read-write into
	// the sandbox, keyed by the mount's relative path. They are never
	// digested and never affect the fingerprint (SPEC_FULL §3
	// "append-only caches").
	AppendOnlyCaches map[string]string

	// InterpreterSearch lists tool requirements resolved by the backend
	// before the process was built (e.g. "python>=3.10"), carried through
	// for diagnostics; like every other field it is part of the fingerprint.
	InterpreterSearch []string

	ExecutionStrategy string // "local" or "remote"
	CacheScope        CacheScope

	// FailOnNonzero makes a non-zero exit an error rather than a result
	// (§4.G "Failure semantics").
	FailOnNonzero bool
	// RetainSandbox skips sandbox cleanup for debugging.
	RetainSandbox bool
}

// Result is the executor's output (§3 "Process result").
type Result struct {
	ExitCode     int
	StdoutDigest digest.Digest
	StderrDigest digest.Digest
	OutputDigest digest.Digest
	TimedOut     bool
}

// Fingerprint is the deterministic cache key over every field of Process
// except AppendOnlyCaches and RetainSandbox (§3 "the fingerprint is a
// deterministic hash over all fields").
func (p Process) Fingerprint() string {
	type wire struct {
		Argv              []string
		Env               map[string]string
		WorkDir           string
		InputDigest       string
		OutputFilePaths   []string
		OutputDirPaths    []string
		TimeoutNanos      int64
		InterpreterSearch []string
		ExecutionStrategy string
		CacheScope        int
		FailOnNonzero     bool
	}
	w := wire{
		Argv:              append([]string{}, p.Argv...),
		Env:               p.Env,
		WorkDir:           p.WorkDir,
		InputDigest:       p.InputDigest.String(),
		OutputFilePaths:   sortedCopy(p.OutputFilePaths),
		OutputDirPaths:    sortedCopy(p.OutputDirPaths),
		TimeoutNanos:      int64(p.Timeout),
		InterpreterSearch: sortedCopy(p.InterpreterSearch),
		ExecutionStrategy: p.ExecutionStrategy,
		CacheScope:        int(p.CacheScope),
		FailOnNonzero:     p.FailOnNonzero,
	}
	b, _ := json.Marshal(w)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func sortedCopy(in []string) []string {
	out := append([]string{}, in...)
	sort.Strings(out)
	return out
}

func digestOf(hash string, size int64) digest.Digest {
	return digest.Digest{Hash: hash, Size: size}
}

// Cacheable reports whether result is eligible for insertion under scope,
// per §4.G step 6.
func Cacheable(scope CacheScope, exitCode int) bool {
	switch scope {
	case CacheScopeNever:
		return false
	case CacheScopeAlways:
		return true
	default:
		return exitCode == 0
	}
}
