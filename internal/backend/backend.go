// Package backend implements the statically linked plugin surface of §9
// "Plugin loading → configuration-driven registration": in place of
// run-time import-and-introspect, the core accepts a fixed list of Backend
// descriptors at startup, each registering rules, target types and goals
// through a well-defined capability set.
package backend

import (
	"fmt"
	"sort"
	"sync"

	"github.com/stratabuild/strata/internal/options"
	"github.com/stratabuild/strata/internal/rules"
)

// TargetType describes one kind of declarable build entity (source set,
// binary, test, distribution, …) a backend contributes to the address
// resolver (§GLOSSARY "Target").
type TargetType struct {
	Name   string
	Fields []string
}

// Goal is a user-visible verb (`test`, `lint`, `fmt`, …) a backend
// contributes; the core itself only reserves `help`, `export`,
// `generate-lockfiles` and `dependees` (§6 "CLI surface").
type Goal struct {
	Name        string
	Description string
	// RootProduct is the product type the scheduler requests per matched
	// target when this goal runs (e.g. "TestResult").
	RootProduct string
}

// Resolve is a named set of dependency constraints a backend can realise
// into a lockfile (§GLOSSARY "Resolve"). LockfileProduct is the product
// type the `generate-lockfiles` goal requests to realise it; the rule
// producing that product must resolve to a LockfileResult value.
type Resolve struct {
	Name            string
	LockfileProduct string
}

// LockfileResult is the value a LockfileProduct-producing rule must return:
// the lockfile's declared on-disk path and its rendered content. The core's
// `generate-lockfiles` goal writes Content to Path atomically; it never
// interprets Content itself (§3 SUPPLEMENTED FEATURES "generate-lockfiles").
type LockfileResult struct {
	Path    string
	Content []byte
}

// Backend is the capability set a plugin registers at startup (§9 "a
// well-defined Backend capability set").
type Backend interface {
	// Name identifies the backend in diagnostics and --help output.
	Name() string
	// RegisterRules declares this backend's rules into reg.
	RegisterRules(reg *rules.Registry) error
	// RegisterScopes declares this backend's option scopes into reg.
	RegisterScopes(reg *options.Registry) error
	// TargetTypes lists the target types this backend contributes.
	TargetTypes() []TargetType
	// Goals lists the goals this backend contributes.
	Goals() []Goal
	// Resolves lists the dependency-constraint sets this backend can
	// realise into a lockfile via `generate-lockfiles`. A backend with no
	// resolves returns nil.
	Resolves() []Resolve
}

// Registry is the static list of backends linked into one binary. Backends
// register themselves via Register from an init() in their own package (the
// "blank import" pattern), so a binary's backend set is fixed at compile
// time and never introspected at runtime.
type Registry struct {
	mu       sync.Mutex
	backends map[string]Backend
}

var global = &Registry{backends: make(map[string]Backend)}

// Register adds b to the process-wide backend registry. Called from a
// backend package's init(); panics on a duplicate name since two backends
// sharing a name is a build-time misconfiguration, not a runtime condition.
func Register(b Backend) {
	global.mu.Lock()
	defer global.mu.Unlock()
	if _, exists := global.backends[b.Name()]; exists {
		panic(fmt.Sprintf("backend: duplicate backend name %q", b.Name()))
	}
	global.backends[b.Name()] = b
}

// All returns every registered backend, sorted by name for deterministic
// --help output and rule-registration order.
func All() []Backend {
	global.mu.Lock()
	defer global.mu.Unlock()
	names := make([]string, 0, len(global.backends))
	for n := range global.backends {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]Backend, len(names))
	for i, n := range names {
		out[i] = global.backends[n]
	}
	return out
}

// WireAll registers every linked backend's rules and scopes into reg/optReg,
// failing on the first error (a malformed backend should fail the process
// at startup, never at request time).
func WireAll(reg *rules.Registry, optReg *options.Registry) error {
	for _, b := range All() {
		if err := b.RegisterRules(reg); err != nil {
			return fmt.Errorf("backend: %s: registering rules: %w", b.Name(), err)
		}
		if err := b.RegisterScopes(optReg); err != nil {
			return fmt.Errorf("backend: %s: registering scopes: %w", b.Name(), err)
		}
	}
	return nil
}

// Goals returns the union of every linked backend's goals, for CLI
// registration. The core's reserved goals are not included.
func Goals() []Goal {
	var out []Goal
	for _, b := range All() {
		out = append(out, b.Goals()...)
	}
	return out
}

// TargetTypes returns the union of every linked backend's target types.
func TargetTypes() []TargetType {
	var out []TargetType
	for _, b := range All() {
		out = append(out, b.TargetTypes()...)
	}
	return out
}

// Resolves returns the union of every linked backend's declared resolves,
// for the `generate-lockfiles` goal.
func Resolves() []Resolve {
	var out []Resolve
	for _, b := range All() {
		out = append(out, b.Resolves()...)
	}
	return out
}
