package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/dyluth/exofit/internal/filter"
	"github.com/dyluth/exofit/internal/printer"
	"github.com/dyluth/exofit/internal/report"
	"github.com/dyluth/exofit/internal/resolver"
	"github.com/dyluth/exofit/internal/timespec"
	"github.com/dyluth/exofit/pkg/chainstore"
	"github.com/spf13/cobra"
)

var (
	runsOutput string
	runsSince  string
	runsUntil  string
	runsMode   string
	runsStatus string
	runsLimit  int
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List stored fit runs",
	Long: `List the runs recorded in the run store, newest first.

Time Filters:
  --since  - Show runs started after this time
  --until  - Show runs started before this time

Content Filters:
  --mode   - Filter by fit mode (glob pattern: "transit*")
  --status - Filter by status (running, completed, cancelled, failed)

Examples:
  # All runs of the last day
  exofit runs --since=1d

  # Completed transit fits as JSONL
  exofit runs --mode='transit*' --status=completed -o jsonl`,
	Args: cobra.NoArgs,
	RunE: runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show RUN_ID",
	Short: "Show the posterior summary of a stored run",
	Long: `Show the posterior summary of a stored run from its saved chains.
Supports short IDs (e.g., "3f9a1c" instead of the full UUID).`,
	Args: cobra.ExactArgs(1),
	RunE: runRunsShow,
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete RUN_ID",
	Short: "Delete a stored run and its chains",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsDelete,
}

func init() {
	runsCmd.Flags().StringVarP(&runsOutput, "output", "o", "table", "Output format: table or jsonl")
	runsCmd.Flags().StringVar(&runsSince, "since", "", "Show runs after time (duration or RFC3339)")
	runsCmd.Flags().StringVar(&runsUntil, "until", "", "Show runs before time (duration or RFC3339)")
	runsCmd.Flags().StringVar(&runsMode, "mode", "", "Filter by fit mode (glob pattern)")
	runsCmd.Flags().StringVar(&runsStatus, "status", "", "Filter by run status")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 0, "Maximum runs to read from the store (0 = all)")

	runsShowCmd.Flags().StringVarP(&runsOutput, "output", "o", "table", "Output format: table or json")

	runsCmd.AddCommand(runsShowCmd, runsDeleteCmd)
	rootCmd.AddCommand(runsCmd)
}

func runRunsList(cmd *cobra.Command, args []string) error {
	if runsOutput != "table" && runsOutput != "jsonl" {
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", runsOutput),
			[]string{"Valid formats: table, jsonl"},
		)
	}
	criteria, err := runCriteria(runsSince, runsUntil, runsMode, runsStatus)
	if err != nil {
		return err
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	return listRuns(cmd.Context(), store, criteria, runsLimit, runsOutput, cmd.OutOrStdout())
}

// runCriteria validates the list filters.
func runCriteria(since, until, mode, status string) (*filter.Criteria, error) {
	sinceMs, untilMs, err := timespec.ParseRange(since, until)
	if err != nil {
		return nil, printer.Error(
			"invalid time filter",
			err.Error(),
			[]string{"Use a duration (2h, 30m, 7d) or an RFC3339 timestamp"},
		)
	}
	c := &filter.Criteria{SinceTimestampMs: sinceMs, UntilTimestampMs: untilMs, ModeGlob: mode}
	if status != "" {
		c.Status = chainstore.RunStatus(status)
		if err := c.Status.Validate(); err != nil {
			return nil, printer.Error(
				"invalid status filter",
				err.Error(),
				[]string{"Valid statuses: running, completed, cancelled, failed"},
			)
		}
	}
	return c, nil
}

func listRuns(ctx context.Context, store resolver.RunStore, c *filter.Criteria, limit int, format string, w io.Writer) error {
	runs, err := store.ListRuns(ctx, limit)
	if err != nil {
		return storeError(err)
	}
	runs = c.Apply(runs)
	if format == "jsonl" {
		return report.FormatRunsJSONL(w, runs)
	}
	report.FormatRunsTable(w, runs, instanceName)
	return nil
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	if runsOutput != "table" && runsOutput != "json" {
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", runsOutput),
			[]string{"Valid formats: table, json"},
		)
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	return showRun(cmd.Context(), store, args[0], runsOutput, cmd.OutOrStdout())
}

// chainReader reads stored runs and their chains.
type chainReader interface {
	resolver.RunStore
	LoadChains(ctx context.Context, runID string, names []string) (map[string][]float64, error)
}

func showRun(ctx context.Context, store chainReader, shortID, format string, w io.Writer) error {
	id, err := resolver.ResolveRunID(ctx, store, shortID)
	if err != nil {
		return resolveError(err)
	}
	run, err := store.GetRun(ctx, id)
	if err != nil {
		return storeError(err)
	}
	chains, err := store.LoadChains(ctx, id, run.FreeParameters)
	if err != nil {
		return storeError(err)
	}

	s := report.FromRun(run, chains)
	if format == "json" {
		return report.FormatJSON(w, s)
	}
	fmt.Fprintf(w, "Mode: %s  Status: %s  Walkers: %d  Steps: %d+%d\n", run.Mode, run.Status, run.Walkers, run.Burnin, run.Jumps)
	if run.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", run.Error)
	}
	fmt.Fprintln(w)
	report.FormatTable(w, s)
	return nil
}

func runRunsDelete(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	id, err := resolver.ResolveRunID(ctx, store, args[0])
	if err != nil {
		return resolveError(err)
	}
	if err := store.DeleteRun(ctx, id); err != nil {
		return storeError(err)
	}
	printer.Success("Deleted run %s\n", id)
	return nil
}
