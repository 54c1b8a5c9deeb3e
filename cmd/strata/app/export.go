package app

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/stratabuild/strata/internal/backend"
)

// exportedTarget is one entry of the `export` goal's JSON output: enough
// for an external IDE/BSP-style consumer to enumerate the matched targets
// without executing anything (§2 "BSP/export emit artifacts for IDEs but
// the IDE is not in scope" — strata stops at emitting the artifact).
type exportedTarget struct {
	Dir  string `json:"dir"`
	Name string `json:"name"`
}

type exportDoc struct {
	Targets     []exportedTarget     `json:"targets"`
	TargetTypes []backend.TargetType `json:"target_types"`
	Goals       []backend.Goal       `json:"goals"`
}

func newExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export [target-spec…]",
		Short: "print the matched targets and linked backends' capabilities as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Loading rules/intrinsics is unnecessary for export, but
			// newRuntime is also where backends get linked (WireAll), so
			// TargetTypes()/Goals() below are only populated after it runs.
			if _, err := newRuntime(cmd.Flags()); err != nil {
				return err
			}

			addrs, err := resolveAddresses(args)
			if err != nil {
				return err
			}
			doc := exportDoc{
				Targets:     make([]exportedTarget, len(addrs)),
				TargetTypes: backend.TargetTypes(),
				Goals:       backend.Goals(),
			}
			for i, a := range addrs {
				doc.Targets[i] = exportedTarget{Dir: a.Dir, Name: a.Name}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(doc)
		},
	}
}
