// Package graph implements the execution engine's memoising DAG (component
// E): node identity, state machine, single-flight dispatch, dependency
// capture, lazy dirtying, cycle detection and cancellation.
package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
)

// Param is one typed value in a node key's params_set. Implementations
// supply a stable, type-tagged string encoding so that two Params compare
// equal iff their encodings are equal (§3 "Node key").
type Param interface {
	// ParamKey returns "type_tag:encoded_value", unique across the process's
	// set of param types.
	ParamKey() string
}

// StringParam is a convenience Param for simple string-valued inputs (e.g. a
// target address, a file path).
type StringParam struct {
	Tag   string
	Value string
}

// ParamKey implements Param.
func (p StringParam) ParamKey() string { return p.Tag + ":" + p.Value }

// Key identifies a node: a product type and an unordered, hashable multiset
// of typed params (§3 "Node key"). The rule registry (internal/rules) must
// map each Key to exactly one producing rule or intrinsic.
type Key struct {
	Product string
	Params  []Param
}

// NewKey builds a Key, taking ownership of params (copy if the caller
// reuses the slice).
func NewKey(product string, params ...Param) Key {
	return Key{Product: product, Params: params}
}

// Fingerprint returns a stable string identity for k, used as the map key in
// the node table and in log lines. Params are sorted before hashing so
// identical multisets fingerprint identically regardless of construction
// order (§3 "params_set is an unordered ... multiset").
func (k Key) Fingerprint() string {
	keys := make([]string, len(k.Params))
	for i, p := range k.Params {
		keys[i] = p.ParamKey()
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(k.Product))
	for _, s := range keys {
		h.Write([]byte{0})
		h.Write([]byte(s))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// String renders a human-readable form for diagnostics and CycleError paths.
func (k Key) String() string {
	keys := make([]string, len(k.Params))
	for i, p := range k.Params {
		keys[i] = p.ParamKey()
	}
	sort.Strings(keys)
	return fmt.Sprintf("%s(%v)", k.Product, keys)
}
