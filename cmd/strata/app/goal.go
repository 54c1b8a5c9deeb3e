package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stratabuild/strata/internal/backend"
	"github.com/stratabuild/strata/internal/scheduler"
)

// registerReservedGoals wires the core's four reserved goals (§6 "the core
// reserves: help, export, generate-lockfiles, dependees") plus one command
// per goal any linked backend contributes. Backend goals share a single
// runFn: build a runtime, resolve target specs, and request each address's
// RootProduct through the session's scheduler pool.
func registerReservedGoals(root *cobra.Command) {
	root.AddCommand(newExportCmd())
	root.AddCommand(newGenerateLockfilesCmd())
	root.AddCommand(newDependeesCmd())

	for _, g := range backend.Goals() {
		root.AddCommand(newBackendGoalCmd(g))
	}
}

func newBackendGoalCmd(g backend.Goal) *cobra.Command {
	desc := g.Description
	if desc == "" {
		desc = fmt.Sprintf("run %s against the given target specs", g.Name)
	}
	return &cobra.Command{
		Use:   g.Name + " [target-spec…]",
		Short: desc,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGoal(cmd, g, args)
		},
	}
}

// runGoal is the common path every backend-contributed goal follows: wire
// the runtime and session, resolve addresses, run one root request per
// (goal, address) pair, and report combined failures under --keep-going.
func runGoal(cmd *cobra.Command, g backend.Goal, args []string) error {
	rt, err := newRuntime(cmd.Flags())
	if err != nil {
		return err
	}
	addrs, err := resolveAddresses(args)
	if err != nil {
		return err
	}
	if len(addrs) == 0 {
		return fmt.Errorf("%s: no targets matched the given specs", g.Name)
	}

	sess, err := rt.newSession(cmd)
	if err != nil {
		return err
	}
	defer sess.Close()

	reqs := make([]scheduler.Request, len(addrs))
	for i, a := range addrs {
		reqs[i] = scheduler.Request{Key: goalKey(g, a), Name: a.String()}
	}

	results, runErr := sess.RunGoals(sess.Context(), reqs)
	if len(results.Errs) > 0 {
		printResultErrors(cmd, results.Errs)
	}
	return runErr
}
