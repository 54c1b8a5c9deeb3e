package sandbox

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"

	strataerrors "github.com/stratabuild/strata/internal/errors"
)

const defaultEnvPolicyModule = `
package strata.sandbox.env

default allow = false

# A conservative built-in allow-list; deployments extend this by bundling
# their own policy module with the same package name.
allow {
	input.name == "PATH"
}

allow {
	input.name == "HOME"
}

allow {
	input.name == "TMPDIR"
}

allow {
	input.name == "LANG"
}

allow {
	startswith(input.name, "LC_")
}

allow {
	input.name == "SSL_CERT_FILE"
}

allow {
	input.name == "SSL_CERT_DIR"
}

allow {
	startswith(input.name, "STRATA_")
}
`

// EnvPolicy decides which host environment variables a sandboxed process
// may inherit (§6 "Environment variables" allow-list, expressed as a small
// Rego policy rather than a hardcoded list so it can be extended per
// deployment).
type EnvPolicy struct {
	query rego.PreparedEvalQuery
}

// NewEnvPolicy compiles module (Rego source defining `strata.sandbox.env.allow`)
// into a reusable prepared query. Pass "" to use the built-in conservative
// default.
func NewEnvPolicy(ctx context.Context, module string) (*EnvPolicy, error) {
	if module == "" {
		module = defaultEnvPolicyModule
	}
	r := rego.New(
		rego.Query("data.strata.sandbox.env.allow"),
		rego.Module("env_policy.rego", module),
	)
	pq, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, strataerrors.New(strataerrors.KindEngine, fmt.Errorf("sandbox: compiling env policy: %w", err))
	}
	return &EnvPolicy{query: pq}, nil
}

// Allow reports whether environment variable name may be passed into a
// sandboxed process.
func (p *EnvPolicy) Allow(name string) (bool, error) {
	rs, err := p.query.Eval(context.Background(), rego.EvalInput(map[string]any{"name": name}))
	if err != nil {
		return false, strataerrors.New(strataerrors.KindEngine, fmt.Errorf("sandbox: evaluating env policy: %w", err))
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, nil
	}
	allowed, _ := rs[0].Expressions[0].Value.(bool)
	return allowed, nil
}
