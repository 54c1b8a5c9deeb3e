package app

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/stratabuild/strata/internal/backend"
	strataerrors "github.com/stratabuild/strata/internal/errors"
	"github.com/stratabuild/strata/internal/graph"
	"github.com/stratabuild/strata/internal/scheduler"
)

// newGenerateLockfilesCmd implements the core-reserved `generate-lockfiles`
// goal (§3 SUPPLEMENTED FEATURES): one root request per declared Resolve,
// writing each resulting backend.LockfileResult to its declared path. This
// is the only reserved goal that writes into the workspace rather than the
// content store.
func newGenerateLockfilesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate-lockfiles",
		Short: "realise every linked backend's declared dependency resolves into lockfiles",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := newRuntime(cmd.Flags())
			if err != nil {
				return err
			}
			resolves := backend.Resolves()
			if len(resolves) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "generate-lockfiles: no backend declares a resolve")
				return nil
			}

			sess, err := rt.newSession(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			reqs := make([]scheduler.Request, len(resolves))
			for i, r := range resolves {
				reqs[i] = scheduler.Request{
					Key:  graph.NewKey(r.LockfileProduct, graph.StringParam{Tag: "resolve", Value: r.Name}),
					Name: r.Name,
				}
			}

			results, runErr := sess.RunGoals(sess.Context(), reqs)
			if len(results.Errs) > 0 {
				printResultErrors(cmd, results.Errs)
			}
			if runErr != nil {
				return runErr
			}

			for i, v := range results.Values {
				lf, ok := v.(backend.LockfileResult)
				if !ok {
					return strataerrors.Newf(strataerrors.KindEngine,
						"generate-lockfiles: resolve %q produced %T, want backend.LockfileResult", resolves[i].Name, v)
				}
				if err := writeLockfileAtomically(lf); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", lf.Path)
			}
			return nil
		},
	}
}

// writeLockfileAtomically writes lf.Content to lf.Path via a temp file plus
// rename, matching the content store's own atomic-publish discipline
// (internal/store.StoreBytes).
func writeLockfileAtomically(lf backend.LockfileResult) error {
	if lf.Path == "" {
		return strataerrors.Newf(strataerrors.KindEngine, "generate-lockfiles: empty lockfile path")
	}
	dir := filepath.Dir(lf.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return strataerrors.New(strataerrors.KindIO, err)
	}
	tmp, err := os.CreateTemp(dir, ".lockfile-*")
	if err != nil {
		return strataerrors.New(strataerrors.KindIO, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(lf.Content); err != nil {
		tmp.Close()
		return strataerrors.New(strataerrors.KindIO, err)
	}
	if err := tmp.Close(); err != nil {
		return strataerrors.New(strataerrors.KindIO, err)
	}
	if err := os.Rename(tmp.Name(), lf.Path); err != nil {
		return strataerrors.New(strataerrors.KindIO, err)
	}
	return nil
}
