// Package address parses target specs from the command line into the forms
// described in §6 "External interfaces" — single target, sibling glob,
// transitive glob, file address, and exclusion — and resolves them against
// a directory lister to produce concrete target addresses.
package address

import (
	"fmt"
	"path"
	"strings"

	strataerrors "github.com/stratabuild/strata/internal/errors"
)

// Kind distinguishes the five target-spec forms of §6.
type Kind int

const (
	// KindSingle is "path/to:name": exactly one target.
	KindSingle Kind = iota
	// KindSiblings is "path/to:": every target declared directly in path/to.
	KindSiblings
	// KindTransitive is "path/to::": every target in path/to and its descendants.
	KindTransitive
	// KindFile is "path/to/file.ext": the target(s) owning that source file.
	KindFile
	// KindExclusion is "-path/to::" (or any -prefixed spec): subtracted from
	// the matched set rather than added to it.
	KindExclusion
)

func (k Kind) String() string {
	switch k {
	case KindSingle:
		return "single"
	case KindSiblings:
		return "siblings"
	case KindTransitive:
		return "transitive"
	case KindFile:
		return "file"
	case KindExclusion:
		return "exclusion"
	default:
		return "unknown"
	}
}

// Spec is one parsed target spec (§GLOSSARY "Spec": "a string from the
// command line that resolves to one or more targets").
type Spec struct {
	Kind Kind
	// Dir is the directory component (path/to).
	Dir string
	// Name is the target name for KindSingle ("name" in "path/to:name").
	Name string
	// File is the source-file path for KindFile.
	File string
	// Exclude is true when the spec was prefixed with "-".
	Exclude bool
}

// Address is one resolved, concrete target identifier ("path/to:name").
type Address struct {
	Dir  string
	Name string
}

// String renders the canonical "path/to:name" form.
func (a Address) String() string {
	return a.Dir + ":" + a.Name
}

// Parse parses one raw target-spec token into a Spec, without touching the
// filesystem (§6 "Target specs").
func Parse(raw string) (Spec, error) {
	if raw == "" {
		return Spec{}, strataerrors.Newf(strataerrors.KindUser, "address: empty target spec")
	}

	exclude := false
	if strings.HasPrefix(raw, "-") {
		exclude = true
		raw = raw[1:]
	}
	if raw == "" {
		return Spec{}, strataerrors.Newf(strataerrors.KindUser, "address: empty target spec after '-'")
	}

	if strings.HasSuffix(raw, "::") {
		dir := strings.TrimSuffix(raw, "::")
		return Spec{Kind: KindTransitive, Dir: normalizeDir(dir), Exclude: exclude}, nil
	}
	if strings.HasSuffix(raw, ":") {
		dir := strings.TrimSuffix(raw, ":")
		return Spec{Kind: KindSiblings, Dir: normalizeDir(dir), Exclude: exclude}, nil
	}
	if idx := strings.LastIndex(raw, ":"); idx >= 0 {
		dir, name := raw[:idx], raw[idx+1:]
		if name == "" {
			return Spec{}, strataerrors.Newf(strataerrors.KindUser, "address: %q: empty target name after ':'", raw)
		}
		return Spec{Kind: KindSingle, Dir: normalizeDir(dir), Name: name, Exclude: exclude}, nil
	}
	if path.Ext(raw) != "" {
		return Spec{Kind: KindFile, Dir: normalizeDir(path.Dir(raw)), File: raw, Exclude: exclude}, nil
	}
	return Spec{}, strataerrors.Newf(strataerrors.KindUser, "address: %q: not a recognised target spec", raw)
}

func normalizeDir(dir string) string {
	dir = strings.TrimSuffix(dir, "/")
	if dir == "" || dir == "." {
		return ""
	}
	return path.Clean(dir)
}

// Lister enumerates a build graph's declared targets, as populated by
// whatever backend's target-type declarations produced them (§9 "Plugin
// loading").
type Lister interface {
	// TargetsIn returns every target address declared directly in dir.
	TargetsIn(dir string) ([]Address, error)
	// TargetsUnder returns every target address declared in dir or any of
	// its descendant directories.
	TargetsUnder(dir string) ([]Address, error)
	// OwnersOf returns the target addresses that declare file as one of
	// their source files.
	OwnersOf(file string) ([]Address, error)
}

// Resolve expands specs against l into a deduplicated, order-stable set of
// concrete addresses, applying exclusions last (§6 "-path/to:: (exclusion)").
func Resolve(l Lister, specs []Spec) ([]Address, error) {
	included := make(map[string]Address)
	excluded := make(map[string]struct{})
	var order []string

	add := func(addrs []Address, exclude bool) {
		for _, a := range addrs {
			key := a.String()
			if exclude {
				excluded[key] = struct{}{}
				continue
			}
			if _, seen := included[key]; !seen {
				order = append(order, key)
			}
			included[key] = a
		}
	}

	for _, spec := range specs {
		var (
			addrs []Address
			err   error
		)
		switch spec.Kind {
		case KindSingle:
			addrs = []Address{{Dir: spec.Dir, Name: spec.Name}}
		case KindSiblings:
			addrs, err = l.TargetsIn(spec.Dir)
		case KindTransitive:
			addrs, err = l.TargetsUnder(spec.Dir)
		case KindFile:
			addrs, err = l.OwnersOf(spec.File)
		default:
			err = fmt.Errorf("address: unhandled spec kind %v", spec.Kind)
		}
		if err != nil {
			return nil, err
		}
		add(addrs, spec.Exclude)
	}

	out := make([]Address, 0, len(order))
	for _, key := range order {
		if _, ex := excluded[key]; ex {
			continue
		}
		out = append(out, included[key])
	}
	return out, nil
}
