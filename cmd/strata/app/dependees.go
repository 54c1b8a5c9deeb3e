package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stratabuild/strata/internal/backend"
	"github.com/stratabuild/strata/internal/graph"
)

// newDependeesCmd implements the core-reserved `dependees` goal (§3
// SUPPLEMENTED FEATURES): given a set of target specs, walks the engine's
// captured dependency edges backwards and prints the set of addresses that
// depend on them.
func newDependeesCmd() *cobra.Command {
	var transitive bool
	cmd := &cobra.Command{
		Use:   "dependees [target-spec…]",
		Short: "print the targets that depend on the given target specs",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Flags())
			if err != nil {
				return err
			}
			addrs, err := resolveAddresses(args)
			if err != nil {
				return err
			}
			if len(addrs) == 0 {
				return fmt.Errorf("dependees: no targets matched the given specs")
			}

			seen := make(map[string]struct{})
			for _, a := range addrs {
				for _, g := range backend.Goals() {
					key := goalKey(g, a)
					for _, dep := range rt.eng.Dependents(key, transitive) {
						if _, ok := seen[dep.Fingerprint()]; ok {
							continue
						}
						seen[dep.Fingerprint()] = struct{}{}
						fmt.Fprintln(cmd.OutOrStdout(), formatDependeeKey(dep))
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&transitive, "transitive", false, "walk the full transitive closure instead of direct dependents only")
	cmd.Flags().BoolVar(&transitive, "closed", false, "alias for --transitive")
	return cmd
}

// formatDependeeKey renders a node key's dir/name params (when present) as
// a target address string, falling back to the raw key for non-target
// products (e.g. an intermediate intrinsic node).
func formatDependeeKey(k graph.Key) string {
	var dir, name string
	for _, p := range k.Params {
		if sp, ok := p.(graph.StringParam); ok {
			switch sp.Tag {
			case "dir":
				dir = sp.Value
			case "name":
				name = sp.Value
			}
		}
	}
	if name != "" {
		return dir + ":" + name
	}
	return k.String()
}
