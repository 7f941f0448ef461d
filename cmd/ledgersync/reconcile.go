package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Strob0t/ledgersync/internal/domain/issue"
	"github.com/Strob0t/ledgersync/internal/domain/reconcile"
)

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <owner/repo>",
		Short: "Create ledger entries for every issue that has none",
		Long: `Run one reconciliation pass over a repository.

Every issue and the whole ledger are listed; entries are created for the
issues without one. Existing entries are left untouched, so the command is
safe to repeat. It exits non-zero when any creation failed.

Example:
  ledgersync reconcile acme/widgets
  ledgersync reconcile acme/widgets --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(cmd.Context(), rootOpts, args[0], cmd.OutOrStdout())
		},
	}
}

func runReconcile(ctx context.Context, rootOpts *RootOptions, ref string, out io.Writer) error {
	repo, err := issue.ParseRepo(ref)
	if err != nil {
		return err
	}
	cfg, log, closer, err := rootOpts.load()
	if err != nil {
		return err
	}
	defer closer.Close()

	a, err := newApp(ctx, cfg, log, appOptions{})
	if err != nil {
		return err
	}
	defer a.close(context.WithoutCancel(ctx))

	outcome, err := a.reconciler.Reconcile(ctx, repo)
	if outcome != nil {
		if printErr := printOutcome(out, rootOpts.Format, outcome); printErr != nil {
			return errors.Join(err, printErr)
		}
	}
	return err
}

func printOutcome(w io.Writer, format string, o *reconcile.Outcome) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(o)
	}

	if _, err := fmt.Fprintf(w, "%s: considered %d, missing %d, created %d, failed %d (pass %s)\n",
		o.Repository, o.Considered, o.Missing, o.Created, o.Failed(), o.PassID); err != nil {
		return err
	}
	for _, f := range o.Failures {
		if _, err := fmt.Fprintf(w, "  #%d: %s\n", f.Number, f.Detail()); err != nil {
			return err
		}
	}
	return nil
}
