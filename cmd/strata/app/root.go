// Package app implements the strata CLI surface (§6 "CLI surface"):
// `strata [global-options…] GOAL [goal-options…] [target-spec…]`.
package app

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	strataerrors "github.com/stratabuild/strata/internal/errors"
)

// RootCmd is the base command when strata is invoked without a goal.
var RootCmd = &cobra.Command{
	Use:   "strata GOAL [goal-options…] [target-spec…]",
	Short: "strata drives a monorepo's build graph",
	Long: `strata computes a dependency graph from target specs and backend-declared
rules, executes the matched work through a content-addressed sandbox, and
caches the results.

Goals are pluggable: the core reserves help, export, generate-lockfiles and
dependees. Every other goal (test, lint, fmt, run, package, check, …) comes
from a linked backend.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	RootCmd.PersistentFlags().String("config", "", "config file merged over built-in defaults")
	RootCmd.PersistentFlags().String("store-dir", "", "content store root (default .strata/store)")
	RootCmd.PersistentFlags().Int64("max-parallelism", 0, "worker pool size (default 4)")
	RootCmd.PersistentFlags().Bool("keep-going", false, "collect every UserError instead of cancelling on the first")
	RootCmd.PersistentFlags().String("workunit-log", "", "additionally stream workunit events as NDJSON to this path")
	RootCmd.PersistentFlags().String("log-level", "", "logging.level override")
	RootCmd.PersistentFlags().String("log-format", "", "logging.format override (text|json)")
}

// Execute runs the root command, mapping errors to the exit codes of
// §6 "Exit codes": 0 success, 1 user error, 2 usage error, 137 cancelled.
//
// Reserved and backend goal commands are registered here rather than from
// init(), so every backend's blank-import init() (main.go) has already run
// and registered into internal/backend's global registry — package
// initialization order between main's sibling blank imports and this
// package is otherwise unspecified.
func Execute() {
	registerReservedGoals(RootCmd)
	if err := RootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	switch strataerrors.KindOf(err) {
	case strataerrors.KindCancelled:
		return 137
	case strataerrors.KindUser, strataerrors.KindTimeout:
		return 1
	case strataerrors.KindIO, strataerrors.KindEngine:
		return 1
	default:
		return 2
	}
}

func printResultErrors(cmd *cobra.Command, errs []error) {
	for _, e := range errs {
		fmt.Fprintln(cmd.ErrOrStderr(), e)
	}
}
