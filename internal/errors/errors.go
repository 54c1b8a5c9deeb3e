// Package errors provides the error taxonomy shared by every core component.
//
// Errors are classified into five kinds. The kind controls whether a node's
// result is memoised by the graph engine (internal/graph) and what exit code
// the session driver reports.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for memoisation and exit-code purposes.
type Kind int

const (
	// KindUser is resolvable by the user: bad target, missing file, a
	// non-zero tool exit, an option parse failure. Memoised per node.
	KindUser Kind = iota
	// KindEngine is an internal invariant broken: missing digest, rule
	// ambiguity at request time, a cycle. Fatal for the node; never memoised.
	KindEngine
	// KindIO is a transient filesystem/network failure. Retried with
	// backoff; becomes KindEngine once retries are exhausted.
	KindIO
	// KindCancelled is propagated without being treated as a failure.
	// Never memoised, never reported as a test failure.
	KindCancelled
	// KindTimeout is a KindUser-class failure attached to the owning process.
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindUser:
		return "user"
	case KindEngine:
		return "engine"
	case KindIO:
		return "io"
	case KindCancelled:
		return "cancelled"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Classified is an error tagged with a Kind and, for node-chain diagnostics,
// a breadcrumb trail of the node keys that led to the failure.
type Classified struct {
	Kind  Kind
	Base  error
	Chain []string
}

// Unwrap lets errors.Is/errors.As see through to Base.
func (e *Classified) Unwrap() error { return e.Base }

// Error implements the error interface.
func (e *Classified) Error() string {
	if len(e.Chain) == 0 {
		return fmt.Sprintf("%s: %v", e.Kind, e.Base)
	}
	return fmt.Sprintf("%s: %v (via %v)", e.Kind, e.Base, e.Chain)
}

// Sentinel base errors. Wrap these with fmt.Errorf("...: %w", ErrX) or use
// the New* constructors below.
var (
	ErrUser      = errors.New("user error")
	ErrEngine    = errors.New("engine error")
	ErrIO        = errors.New("io error")
	ErrCancelled = errors.New("cancelled")
	ErrTimeout   = errors.New("timed out")

	// ErrCycle is the base of CycleError (testable property 5).
	ErrCycle = fmt.Errorf("%w: cycle detected", ErrEngine)
	// ErrAmbiguousRule is returned by the rule registry solver (component D).
	ErrAmbiguousRule = fmt.Errorf("%w: ambiguous rule", ErrEngine)
	// ErrNoRule is returned when a node key has no producing rule or intrinsic.
	ErrNoRule = fmt.Errorf("%w: no rule produces requested product", ErrEngine)
	// ErrUnknownDigest is returned by the content store when a digest is
	// referenced but was never stored or has been reaped.
	ErrUnknownDigest = fmt.Errorf("%w: unknown digest", ErrEngine)
	// ErrMergeConflict is returned by store.MergeDirectories.
	ErrMergeConflict = fmt.Errorf("%w: merge conflict", ErrUser)
)

// New classifies err as Kind k, wrapping it so errors.Is(err, ErrX) still works.
func New(k Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Classified{Kind: k, Base: err}
}

// Newf builds a new Kind-classified error from a format string.
func Newf(k Kind, format string, args ...any) error {
	return New(k, fmt.Errorf(format, args...))
}

// WithChain attaches a node-key breadcrumb trail to an existing error,
// used by the session driver to render "diagnostic-quality" messages (§7).
func WithChain(err error, chain []string) error {
	var c *Classified
	if errors.As(err, &c) {
		cp := *c
		cp.Chain = append([]string{}, chain...)
		return &cp
	}
	return &Classified{Kind: KindEngine, Base: err, Chain: chain}
}

// KindOf returns the Kind of err, defaulting to KindEngine for
// unclassified errors (fail safe: treat the unknown as non-memoisable).
func KindOf(err error) Kind {
	var c *Classified
	if errors.As(err, &c) {
		return c.Kind
	}
	switch {
	case errors.Is(err, ErrUser):
		return KindUser
	case errors.Is(err, ErrIO):
		return KindIO
	case errors.Is(err, ErrCancelled):
		return KindCancelled
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	default:
		return KindEngine
	}
}

// Memoisable reports whether an error of this kind should be cached as a
// node's Failed(error) state (§4.E "Failure").
func Memoisable(err error) bool {
	k := KindOf(err)
	return k == KindUser || k == KindTimeout
}

// IsCancelled reports whether err represents cooperative cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}
