package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Strob0t/ledgersync/internal/adapter/github"
	"github.com/Strob0t/ledgersync/internal/domain"
	"github.com/Strob0t/ledgersync/internal/domain/issue"
	"github.com/Strob0t/ledgersync/internal/service"
)

// NewActionCommand creates the action command.
func NewActionCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "action",
		Short: "Handle the event of the current GitHub Actions run",
		Long: `Apply the event that triggered a GitHub Actions workflow.

The event is read from GITHUB_EVENT_NAME and GITHUB_EVENT_PATH. An issues
event creates or updates the issue's entry; workflow_dispatch and schedule
runs reconcile GITHUB_REPOSITORY. Other events are ignored.

Example workflow step:
  - run: ledgersync action
    env:
      GITHUB_TOKEN: ${{ secrets.GITHUB_TOKEN }}
      NOTION_TOKEN: ${{ secrets.NOTION_TOKEN }}
      NOTION_DATABASE: ${{ vars.NOTION_DATABASE }}`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAction(cmd.Context(), rootOpts, cmd.OutOrStdout())
		},
	}
}

// actionTrigger reads the workflow's event into a trigger.
func actionTrigger(getenv func(string) string) (issue.Trigger, error) {
	name, path := getenv("GITHUB_EVENT_NAME"), getenv("GITHUB_EVENT_PATH")
	if name == "" || path == "" {
		return issue.Trigger{}, fmt.Errorf("%w: GITHUB_EVENT_NAME and GITHUB_EVENT_PATH are required", domain.ErrConfig)
	}
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is provided by the Actions runner
	if err != nil {
		return issue.Trigger{}, fmt.Errorf("read event file: %w", err)
	}
	return github.ParseEvent(name, data, getenv("GITHUB_REPOSITORY"))
}

func runAction(ctx context.Context, rootOpts *RootOptions, out io.Writer) error {
	trigger, err := actionTrigger(os.Getenv)
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

	res, err := a.dispatcher.Dispatch(ctx, trigger)
	if res != nil {
		if printErr := printResult(out, rootOpts.Format, trigger, res); printErr != nil && err == nil {
			err = printErr
		}
	}
	return err
}

func printResult(w io.Writer, format string, t issue.Trigger, res *service.DispatchResult) error {
	if format == "json" {
		return json.NewEncoder(w).Encode(res)
	}
	switch {
	case res.Outcome != nil:
		return printOutcome(w, format, res.Outcome)
	case res.Issue != nil:
		_, err := fmt.Fprintf(w, "%s#%d: entry %s %s\n", res.Issue.Repository, res.Issue.Number, res.Issue.EntryID, res.Issue.Action)
		return err
	default:
		_, err := fmt.Fprintf(w, "ignored %s event\n", t.Action)
		return err
	}
}
