package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dyluth/exofit/internal/printer"
	"github.com/dyluth/exofit/internal/resolver"
	"github.com/dyluth/exofit/internal/watch"
	"github.com/dyluth/exofit/pkg/chainstore"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const watchPollInterval = 500 * time.Millisecond

var (
	watchOutputFormat string
	watchTimeout      time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch [RUN_ID]",
	Short: "Follow the progress of running fits",
	Long: `Stream sampler progress published by fits that record into the run store.

Without RUN_ID every run of the instance is followed until interrupted. With
RUN_ID the stream stops after the run's final generation and the command
waits for the run to be recorded as finished.

Output Formats:
  default - Human-readable progress lines
  json    - Line-delimited JSON for programmatic processing

Examples:
  # Watch all fits
  exofit --redis-url redis://localhost:6379/0 watch

  # Follow one run by short ID as JSON
  exofit watch 3f9a1c --output=json > progress.jsonl`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchOutputFormat, "output", "o", "default", "Output format (default or json)")
	watchCmd.Flags().DurationVar(&watchTimeout, "timeout", time.Minute, "How long to wait for a run to be recorded as finished")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	format, err := watch.ParseOutputFormat(watchOutputFormat)
	if err != nil {
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", watchOutputFormat),
			[]string{"Valid formats: default, json"},
		)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	var runID string
	if len(args) == 1 {
		if runID, err = resolver.ResolveRunID(ctx, store, args[0]); err != nil {
			return resolveError(err)
		}
	}

	err = followRuns(ctx, store, runID, format, cmd.OutOrStdout())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// progressStore is the part of the chain store watching needs.
type progressStore interface {
	watch.RunGetter
	SubscribeProgress(ctx context.Context) (*chainstore.ProgressSubscription, error)
}

// followRuns streams progress for runID, or for every run when it is empty.
func followRuns(ctx context.Context, store progressStore, runID string, format watch.OutputFormat, w io.Writer) error {
	if runID != "" {
		run, err := store.GetRun(ctx, runID)
		if err != nil {
			return storeError(err)
		}
		if run.Status.Terminal() {
			fmt.Fprintf(w, "Run %s already %s\n", runID, run.Status)
			return nil
		}
	}

	sub, err := store.SubscribeProgress(ctx)
	if err != nil {
		return storeError(err)
	}
	defer sub.Close()

	go func() {
		for err := range sub.Errors() {
			logger.Warn("skipped malformed progress event", zap.Error(err))
		}
	}()

	if err := watch.StreamProgress(ctx, sub.Events(), runID, format, w); err != nil {
		return err
	}
	if runID == "" {
		return nil
	}

	run, err := watch.PollForRun(ctx, store, runID, watchPollInterval, watchTimeout)
	if err != nil {
		return printer.Error("run did not finish", err.Error(), []string{"Show the run later:\n  exofit runs show " + runID})
	}
	if format == watch.OutputFormatDefault {
		fmt.Fprintf(w, "Run %s %s\n", runID, run.Status)
	}
	return nil
}
