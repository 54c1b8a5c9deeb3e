// Package rules implements the rule registry (component D): backends
// declare rules at process startup; the registry solves the declared
// get-edges into a single static dispatch table before any request is
// served, and rejects the process if the rule graph is not solvable.
package rules

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/stratabuild/strata/internal/errors"
	"github.com/stratabuild/strata/internal/graph"
)

// GetEdge is one sub-request a rule's body may issue: the product type it
// requests and the set of input type tags it supplies for that request
// (§3 "Rule": "gets are sub-requests the rule may issue during its body").
type GetEdge struct {
	Product    string
	InputTypes []string
}

// Rule is one compile-time rule declaration (§3 "Rule":
// "(output_type, input_types[], gets[], body_id)").
type Rule struct {
	// Name identifies the rule in diagnostics; typically "backend.FuncName".
	Name string
	// OutputType is the product type this rule produces.
	OutputType string
	// InputTypes is the set of type tags this rule's key params carry.
	InputTypes []string
	// Gets are this rule's declared sub-requests, checked for
	// satisfiability by the solver.
	Gets []GetEdge
	// When is an optional CEL expression over `input_types` (a CEL list of
	// strings) deciding whether this rule is the applicable producer for a
	// given get-edge's input type set. Empty means "always applicable",
	// i.e. this rule matches any get-edge requesting its OutputType.
	When string
	// Dispatch is the rule body, invoked with a *graph.Task bound to the
	// requesting node's call stack.
	Dispatch graph.Dispatch
}

type compiledRule struct {
	Rule
	program cel.Program
}

// Registry accumulates rule declarations and solves them once.
type Registry struct {
	mu      sync.Mutex
	byName  map[string]*compiledRule
	solved  bool
	table   map[string]*compiledRule
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*compiledRule)}
}

// Register declares rule. It compiles rule.When (if set) immediately, so a
// syntax error surfaces at the backend's init call site rather than at
// Solve time. Registering after Solve has run panics: rule declarations are
// a startup-only concern (§4.D "The solver runs once per process, not per
// request.").
func (r *Registry) Register(rule Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.solved {
		panic("rules: Register called after Solve")
	}
	if rule.Name == "" || rule.OutputType == "" || rule.Dispatch == nil {
		return errors.Newf(errors.KindEngine, "rules: invalid declaration %+v", rule)
	}
	if _, exists := r.byName[rule.Name]; exists {
		return errors.Newf(errors.KindEngine, "rules: duplicate rule name %q", rule.Name)
	}

	cr := &compiledRule{Rule: rule}
	if rule.When != "" {
		env, err := cel.NewEnv(cel.Variable("input_types", cel.ListType(cel.StringType)))
		if err != nil {
			return errors.Newf(errors.KindEngine, "rules: %s: building CEL env: %w", rule.Name, err)
		}
		ast, issues := env.Compile(rule.When)
		if issues != nil && issues.Err() != nil {
			return errors.Newf(errors.KindEngine, "rules: %s: compiling `when`: %w", rule.Name, issues.Err())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return errors.Newf(errors.KindEngine, "rules: %s: building CEL program: %w", rule.Name, err)
		}
		cr.program = prg
	}
	r.byName[rule.Name] = cr
	return nil
}

// matches reports whether rule is the applicable producer for a get-edge
// requesting product with the given input type tags.
func (cr *compiledRule) matches(product string, inputTypes []string) (bool, error) {
	if cr.OutputType != product {
		return false, nil
	}
	if cr.program == nil {
		return true, nil
	}
	out, _, err := cr.program.Eval(map[string]any{"input_types": inputTypes})
	if err != nil {
		return false, errors.Newf(errors.KindEngine, "rules: %s: evaluating `when`: %w", cr.Name, err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, errors.Newf(errors.KindEngine, "rules: %s: `when` did not evaluate to bool", cr.Name)
	}
	return b, nil
}

// tableKey is the static dispatch table's lookup key: product plus the
// sorted, de-duplicated set of input type tags.
func tableKey(product string, inputTypes []string) string {
	uniq := make(map[string]struct{}, len(inputTypes))
	for _, t := range inputTypes {
		uniq[t] = struct{}{}
	}
	tags := make([]string, 0, len(uniq))
	for t := range uniq {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return product + "|" + strings.Join(tags, ",")
}

// Solve validates every declared get-edge is satisfiable by exactly one
// registered rule and builds the static dispatch table (§4.D "Algorithm for
// solving"). It must run exactly once, after all backends have registered
// their rules and before any request reaches the graph engine.
func (r *Registry) Solve() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.solved {
		return errors.Newf(errors.KindEngine, "rules: Solve called twice")
	}

	table := make(map[string]*compiledRule)
	for _, cr := range r.byName {
		key := tableKey(cr.OutputType, cr.InputTypes)
		if existing, ok := table[key]; ok {
			return errors.Newf(errors.KindEngine,
				"rules: ambiguous producer for %s: %q and %q both match: %w",
				key, existing.Name, cr.Name, errors.ErrAmbiguousRule)
		}
		table[key] = cr
	}

	var diagnostics []string
	for _, cr := range r.byName {
		for _, edge := range cr.Gets {
			candidates := candidatesFor(r.byName, edge)
			switch len(candidates) {
			case 0:
				diagnostics = append(diagnostics, fmt.Sprintf(
					"%s: get(%s, %v) has no producer", cr.Name, edge.Product, edge.InputTypes))
			case 1:
				// satisfiable, nothing to record: runtime dispatch goes
				// through `table` by the requester's actual key, not by
				// this static edge declaration.
			default:
				names := make([]string, len(candidates))
				for i, c := range candidates {
					names[i] = c.Name
				}
				diagnostics = append(diagnostics, fmt.Sprintf(
					"%s: get(%s, %v) is ambiguous between %v", cr.Name, edge.Product, edge.InputTypes, names))
			}
		}
	}
	if len(diagnostics) > 0 {
		return errors.Newf(errors.KindEngine, "rules: unsolvable rule graph:\n  %s: %w",
			strings.Join(diagnostics, "\n  "), errors.ErrAmbiguousRule)
	}

	r.table = table
	r.solved = true
	return nil
}

func candidatesFor(rules map[string]*compiledRule, edge GetEdge) []*compiledRule {
	var out []*compiledRule
	for _, cr := range rules {
		ok, err := cr.matches(edge.Product, edge.InputTypes)
		if err != nil || !ok {
			continue
		}
		out = append(out, cr)
	}
	return out
}

// Dispatch builds the graph.Dispatch function backing the execution
// engine, routing each requested Key to its solved producer. Solve must
// have already succeeded.
func (r *Registry) Dispatch() (graph.Dispatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.solved {
		return nil, errors.Newf(errors.KindEngine, "rules: Dispatch called before Solve")
	}
	table := r.table
	return func(ctx context.Context, key graph.Key, t *graph.Task) (any, error) {
		tags := paramTags(key)
		cr, ok := table[tableKey(key.Product, tags)]
		if !ok {
			return nil, errors.Newf(errors.KindEngine, "%w: %s", errors.ErrNoRule, key.String())
		}
		return cr.Dispatch(ctx, key, t)
	}, nil
}

func paramTags(key graph.Key) []string {
	tags := make([]string, 0, len(key.Params))
	for _, p := range key.Params {
		pk := p.ParamKey()
		if i := strings.IndexByte(pk, ':'); i >= 0 {
			tags = append(tags, pk[:i])
		} else {
			tags = append(tags, pk)
		}
	}
	return tags
}

// Names returns every registered rule's name, for diagnostics.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.byName))
	for n := range r.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
