package backend

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stratabuild/strata/internal/graph"
	"github.com/stratabuild/strata/internal/options"
	"github.com/stratabuild/strata/internal/rules"
)

// fakeBackend is a minimal Backend for exercising the registry in isolation
// from any real backend package.
type fakeBackend struct {
	name        string
	ruleErr     error
	scopeErr    error
	targetTypes []TargetType
	goals       []Goal
	resolves    []Resolve
}

func (f *fakeBackend) Name() string { return f.name }
func (f *fakeBackend) RegisterRules(reg *rules.Registry) error {
	if f.ruleErr != nil {
		return f.ruleErr
	}
	return reg.Register(rules.Rule{
		Name:       f.name + ".rule",
		OutputType: f.name + "-product",
		Dispatch:   func(ctx context.Context, key graph.Key, t *graph.Task) (any, error) { return nil, nil },
	})
}
func (f *fakeBackend) RegisterScopes(reg *options.Registry) error { return f.scopeErr }
func (f *fakeBackend) TargetTypes() []TargetType                  { return f.targetTypes }
func (f *fakeBackend) Goals() []Goal                              { return f.goals }
func (f *fakeBackend) Resolves() []Resolve                        { return f.resolves }

func TestRegister_DuplicateNamePanics(t *testing.T) {
	Register(&fakeBackend{name: "dup-test-backend"})
	require.Panics(t, func() {
		Register(&fakeBackend{name: "dup-test-backend"})
	})
}

func TestGoals_UnionOfLinkedBackends(t *testing.T) {
	name := "goals-test-backend"
	Register(&fakeBackend{name: name, goals: []Goal{{Name: "frobnicate", RootProduct: "FrobResult"}}})

	var found bool
	for _, g := range Goals() {
		if g.Name == "frobnicate" {
			found = true
		}
	}
	require.True(t, found)
}

func TestTargetTypes_UnionOfLinkedBackends(t *testing.T) {
	name := "targettypes-test-backend"
	Register(&fakeBackend{name: name, targetTypes: []TargetType{{Name: "widget", Fields: []string{"srcs"}}}})

	var found bool
	for _, tt := range TargetTypes() {
		if tt.Name == "widget" {
			found = true
		}
	}
	require.True(t, found)
}

func TestResolves_UnionOfLinkedBackends(t *testing.T) {
	name := "resolves-test-backend"
	Register(&fakeBackend{name: name, resolves: []Resolve{{Name: "deps", LockfileProduct: "LockfileContent"}}})

	var found bool
	for _, r := range Resolves() {
		if r.Name == "deps" {
			found = true
		}
	}
	require.True(t, found)
}

func TestAll_SortedByName(t *testing.T) {
	Register(&fakeBackend{name: "zzz-sort-test"})
	Register(&fakeBackend{name: "aaa-sort-test"})

	names := make([]string, 0)
	for _, b := range All() {
		names = append(names, b.Name())
	}
	// aaa-sort-test must precede zzz-sort-test wherever both appear.
	var aIdx, zIdx = -1, -1
	for i, n := range names {
		if n == "aaa-sort-test" {
			aIdx = i
		}
		if n == "zzz-sort-test" {
			zIdx = i
		}
	}
	require.True(t, aIdx >= 0 && zIdx >= 0 && aIdx < zIdx)
}

func TestWireAll_PropagatesRuleError(t *testing.T) {
	name := "wireall-error-backend"
	Register(&fakeBackend{name: name, ruleErr: fmt.Errorf("boom")})

	reg := rules.NewRegistry()
	optReg := options.NewRegistry(nil)
	err := WireAll(reg, optReg)
	require.Error(t, err)
}
