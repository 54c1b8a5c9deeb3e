// Package intrinsics implements the fixed set of natively-implemented graph
// nodes (component H): each is keyed identically to a rule-produced node,
// but its body is Go code rather than a backend-declared rule.
package intrinsics

import (
	"fmt"
	"sort"
	"strings"

	"github.com/stratabuild/strata/internal/digest"
	"github.com/stratabuild/strata/internal/globs"
	"github.com/stratabuild/strata/internal/graph"
	"github.com/stratabuild/strata/internal/sandbox"
)

// DigestParam carries a single Digest input.
type DigestParam struct{ D digest.Digest }

// ParamKey implements graph.Param.
func (p DigestParam) ParamKey() string { return "digest:" + p.D.String() }

// DigestsParam carries an ordered set of Digest inputs (MergeDigests).
type DigestsParam struct{ Ds []digest.Digest }

// ParamKey implements graph.Param.
func (p DigestsParam) ParamKey() string {
	parts := make([]string, len(p.Ds))
	for i, d := range p.Ds {
		parts[i] = d.String()
	}
	sort.Strings(parts)
	return "digests:" + strings.Join(parts, ",")
}

// PathGlobsParam carries a PathGlobs input.
type PathGlobsParam struct{ G globs.PathGlobs }

// ParamKey implements graph.Param.
func (p PathGlobsParam) ParamKey() string { return "pathglobs:" + p.G.Fingerprint() }

// PrefixParam carries a path-prefix string input for RemovePrefix/AddPrefix.
type PrefixParam struct{ Prefix string }

// ParamKey implements graph.Param.
func (p PrefixParam) ParamKey() string { return "prefix:" + p.Prefix }

// ProcessParam carries a Process description input.
type ProcessParam struct{ P sandbox.Process }

// ParamKey implements graph.Param.
func (p ProcessParam) ParamKey() string { return "process:" + p.P.Fingerprint() }

// URLParam carries a download URL plus its expected Digest.
type URLParam struct {
	URL      string
	Expected digest.Digest
}

// ParamKey implements graph.Param.
func (p URLParam) ParamKey() string { return "url:" + p.URL + "|" + p.Expected.String() }

// VersionConstraintParam optionally carries a semver constraint checked
// against a downloaded tool's reported version (DownloadFile's optional
// version-constraint check).
type VersionConstraintParam struct{ Constraint string }

// ParamKey implements graph.Param.
func (p VersionConstraintParam) ParamKey() string { return "versionconstraint:" + p.Constraint }

func find[T graph.Param](key graph.Key) (T, bool) {
	var zero T
	for _, p := range key.Params {
		if v, ok := p.(T); ok {
			return v, true
		}
	}
	return zero, false
}

func missingParam(product string, tag string) error {
	return fmt.Errorf("intrinsics: %s: missing %s param", product, tag)
}
