package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dyluth/exofit/internal/config"
	"github.com/dyluth/exofit/internal/dataset"
	"github.com/dyluth/exofit/internal/mcmc"
	"github.com/dyluth/exofit/internal/params"
	"github.com/dyluth/exofit/internal/posterior"
	"github.com/dyluth/exofit/internal/printer"
	"github.com/dyluth/exofit/internal/report"
	"github.com/dyluth/exofit/internal/resolver"
	"github.com/dyluth/exofit/internal/telemetry"
	"github.com/dyluth/exofit/pkg/chainstore"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// defaultPublishEvery is how many generations pass between live progress
// events.
const defaultPublishEvery = 10

var (
	fitExport       string
	fitOutput       string
	fitResume       string
	fitMetricsAddr  string
	fitPublishEvery int
)

var fitCmd = &cobra.Command{
	Use:   "fit CONFIG",
	Short: "Run a Bayesian fit described by a configuration file",
	Long: `Run an MCMC fit of the model selected by the configuration's mode.

Modes:
  transit        - transit light curve of one or more photometric instruments
  rv             - radial-velocity curve
  full           - light curve and radial velocities with shared orbit
  transit_noise  - noise parameters only, with the transit model frozen

The fit first maximises the posterior with Nelder-Mead, scatters the
walkers around the optimum and runs the ensemble sampler for burnin+jumps
generations. Every parameter's value is set to its posterior median.

With --redis-url the run and its chains are stored; --resume reuses the
chains of an earlier run instead of sampling again.

Examples:
  # Fit and print the posterior table
  exofit fit fit.yaml

  # Store the run and export the summary
  exofit --redis-url redis://localhost:6379/0 fit fit.yaml --export summary.json

  # Resume a stored run by short ID
  exofit --redis-url redis://localhost:6379/0 fit fit.yaml --resume 3f9a1c

  # Serve Prometheus metrics while sampling
  exofit fit fit.yaml --metrics-addr :9090`,
	Args: cobra.ExactArgs(1),
	RunE: runFit,
}

func init() {
	fitCmd.Flags().StringVar(&fitExport, "export", "", "Write the posterior summary as JSON to this file")
	fitCmd.Flags().StringVarP(&fitOutput, "output", "o", "table", "Output format: table or jsonl")
	fitCmd.Flags().StringVar(&fitResume, "resume", "", "Resume from the chains of a stored run (ID or short ID)")
	fitCmd.Flags().StringVar(&fitMetricsAddr, "metrics-addr", "", "Serve /metrics and /healthz on this address while fitting")
	fitCmd.Flags().IntVar(&fitPublishEvery, "publish-every", defaultPublishEvery, "Generations between published progress events")

	rootCmd.AddCommand(fitCmd)
}

// fitStore is the chain store a fit can record into and resume from.
type fitStore interface {
	runStore
	resolver.RunStore
	telemetry.Pinger
}

// fitRequest holds the inputs of one fit.
type fitRequest struct {
	ConfigPath   string
	ResumeID     string
	MetricsAddr  string
	PublishEvery int
	ShowProgress bool
}

func runFit(cmd *cobra.Command, args []string) error {
	if fitOutput != "table" && fitOutput != "jsonl" {
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", fitOutput),
			[]string{"Valid formats: table, jsonl"},
		)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store fitStore
	if redisURL != "" {
		client, err := openStore()
		if err != nil {
			return err
		}
		defer client.Close()
		store = client
	} else if fitResume != "" {
		return printer.Error(
			"cannot resume without a run store",
			"--resume reads chains from Redis but no URL was given.",
			[]string{"Pass --redis-url or set " + redisURLEnv},
		)
	}

	summary, err := executeFit(ctx, fitRequest{
		ConfigPath:   args[0],
		ResumeID:     fitResume,
		MetricsAddr:  fitMetricsAddr,
		PublishEvery: fitPublishEvery,
		ShowProgress: fitOutput == "table",
	}, store)
	if err != nil {
		return err
	}

	if err := writeSummary(cmd.OutOrStdout(), summary, fitOutput); err != nil {
		return err
	}

	if fitExport != "" {
		if err := report.Export(fitExport, summary); err != nil {
			return printer.Error(
				"export failed",
				err.Error(),
				[]string{"Check that the directory exists and is writable"},
			)
		}
		if fitOutput == "table" {
			printer.Success("Exported posterior summary to %s\n", fitExport)
		}
	}
	return nil
}

func writeSummary(w io.Writer, s *report.Summary, format string) error {
	if format == "jsonl" {
		return report.FormatJSONL(w, s.Rows)
	}
	fmt.Fprintln(w)
	report.FormatTable(w, s)
	return nil
}

// executeFit runs one fit. store may be nil, in which case nothing is
// recorded and resuming is only possible from posteriors already in the
// registry.
func executeFit(ctx context.Context, req fitRequest, store fitStore) (*report.Summary, error) {
	cfg, reg, post, err := prepareFit(req.ConfigPath)
	if err != nil {
		return nil, err
	}
	opts := mcmc.OptionsFromConfig(cfg.Sampler)
	free := post.FreeNames()

	metrics := telemetry.NewMetrics()
	metrics.TrackEvaluations(post.Evaluations)
	orchOpts := []mcmc.Option{
		mcmc.WithLogger(logger),
		mcmc.WithProgress(metrics.Hook()),
	}
	if req.ShowProgress {
		orchOpts = append(orchOpts, mcmc.WithProgress(func(p mcmc.Progress) {
			printer.Progress(p.Generation, p.Generations, p.AcceptanceFraction(), p.BestLogProb)
		}))
	}

	var run *chainstore.Run
	if store != nil {
		run, err = openRun(ctx, store, req, cfg, free, opts)
		if err != nil {
			return nil, err
		}
		orchOpts = append(orchOpts,
			mcmc.WithRunID(run.ID),
			mcmc.WithCheckpoint(&storeCheckpoint{store: store, run: run}),
			mcmc.WithProgress(progressPublisher(ctx, store, req.PublishEvery, logger)),
		)
	}

	orch := mcmc.New(post, reg, opts, orchOpts...)
	metrics.TrackState(orch)

	if req.MetricsAddr != "" {
		var pinger telemetry.Pinger
		if store != nil {
			pinger = store
		}
		srv := telemetry.NewServer(req.MetricsAddr, metrics, orch, pinger, logger)
		if err := srv.Start(); err != nil {
			return nil, printer.Error(
				"failed to start metrics server",
				err.Error(),
				[]string{"Choose a free address with --metrics-addr"},
			)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("failed to stop metrics server", zap.Error(err))
			}
		}()
		if req.ShowProgress {
			printer.Info("Serving metrics on http://%s/metrics\n", srv.Addr())
		}
	}

	if req.ShowProgress {
		printer.Step("Fitting %d free parameters in mode '%s'\n", len(free), cfg.Mode)
	}
	res, err := orch.Run(ctx)
	if err != nil {
		if run != nil {
			status := chainstore.RunStatusFailed
			if ctx.Err() != nil {
				status = chainstore.RunStatusCancelled
			}
			finishRun(store, run, status, err)
		}
		if errors.Is(err, context.Canceled) {
			return nil, printer.Error("fit cancelled", "The fit was interrupted before sampling finished.", nil)
		}
		return nil, printer.Error("fit failed", err.Error(), nil)
	}
	if req.ShowProgress && res.Resumed {
		printer.Info("Resumed from stored chains; sampling skipped\n")
	}
	if run != nil {
		recordOutcome(store, run, res)
	}

	summary, err := report.Summarize(reg, nil)
	if err != nil {
		return nil, err
	}
	summary.RunID = res.RunID
	summary.Mode = string(cfg.Mode)
	return summary, nil
}

// recordOutcome gives a finished fit's run a terminal status. A fit whose
// chains could not be saved is marked failed so watchers do not wait on it.
func recordOutcome(store runStore, run *chainstore.Run, res *mcmc.Result) {
	if res.CheckpointErr != nil {
		finishRun(store, run, chainstore.RunStatusFailed, res.CheckpointErr)
		printer.Warning("Chains were not saved: %v\n", res.CheckpointErr)
		return
	}
	if run.Medians == nil {
		run.Medians = res.Medians
	}
	finishRun(store, run, chainstore.RunStatusCompleted, nil)
}

// prepareFit loads the configuration and data and builds the posterior.
func prepareFit(path string) (*config.FitConfig, *params.Registry, *posterior.Posterior, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, nil, printer.ErrorWithContext(
			"invalid configuration",
			err.Error(),
			map[string]string{"config": path},
			[]string{"Check the mode, the data paths and every parameter's prior"},
		)
	}

	var phot, rvData *dataset.Series
	if cfg.Mode.UsesPhotometry() {
		if phot, err = loadSeries(cfg.Photometry.Data, "photometry"); err != nil {
			return nil, nil, nil, err
		}
	}
	if cfg.Mode.UsesRV() {
		if rvData, err = loadSeries(cfg.RV.Data, "radial-velocity"); err != nil {
			return nil, nil, nil, err
		}
	}

	reg, err := params.FromConfig(cfg)
	if err != nil {
		return nil, nil, nil, parameterError(err)
	}
	post, err := posterior.New(cfg, reg, phot, rvData, nil)
	if err != nil {
		return nil, nil, nil, parameterError(err)
	}
	return cfg, reg, post, nil
}

func loadSeries(path, kind string) (*dataset.Series, error) {
	s, err := dataset.Load(path)
	if err != nil {
		return nil, printer.ErrorWithContext(
			"failed to load "+kind+" data",
			err.Error(),
			map[string]string{"file": path},
			[]string{"Data files hold whitespace-separated columns: time value [error] [instrument]"},
		)
	}
	return s, nil
}

func parameterError(err error) error {
	if params.IsConfigError(err) {
		return printer.Error(
			"invalid parameter setup",
			err.Error(),
			[]string{"Every model parameter of the mode needs a prior in the configuration"},
		)
	}
	return printer.Error("failed to build posterior", err.Error(), nil)
}

// openRun records a new run, or loads the run named by req.ResumeID.
func openRun(ctx context.Context, store fitStore, req fitRequest, cfg *config.FitConfig, free []string, opts mcmc.Options) (*chainstore.Run, error) {
	if req.ResumeID == "" {
		run := chainstore.NewRun(string(cfg.Mode), free, opts.Walkers, opts.Jumps, opts.Burnin, opts.Seed)
		if abs, err := filepath.Abs(req.ConfigPath); err == nil {
			run.ConfigPath = abs
		}
		if err := store.SaveRun(ctx, run); err != nil {
			return nil, storeError(err)
		}
		return run, nil
	}

	id, err := resolver.ResolveRunID(ctx, store, req.ResumeID)
	if err != nil {
		return nil, resolveError(err)
	}
	run, err := store.GetRun(ctx, id)
	if err != nil {
		return nil, storeError(err)
	}
	if run.Mode != string(cfg.Mode) {
		return nil, printer.Error(
			"run mode mismatch",
			fmt.Sprintf("Run %s was fitted in mode '%s' but the configuration uses '%s'.", id, run.Mode, cfg.Mode),
			[]string{"Resume with the configuration the run was started from"},
		)
	}
	if run.Status != chainstore.RunStatusCompleted {
		run.Status = chainstore.RunStatusRunning
		run.Error = ""
		run.UpdatedAtMs = time.Now().UnixMilli()
		if err := store.SaveRun(ctx, run); err != nil {
			return nil, storeError(err)
		}
	}
	return run, nil
}

func storeError(err error) error {
	return printer.Error(
		"run store unavailable",
		err.Error(),
		[]string{"Check that Redis is reachable at --redis-url"},
	)
}

func resolveError(err error) error {
	var amb *resolver.AmbiguousError
	if errors.As(err, &amb) {
		return printer.Error("ambiguous run ID", amb.Explain(), []string{"Use a longer prefix"})
	}
	var nf *resolver.NotFoundError
	if errors.As(err, &nf) {
		return printer.Error(
			"run not found",
			nf.Error(),
			[]string{"List stored runs:\n  exofit runs"},
		)
	}
	return printer.Error("failed to resolve run ID", err.Error(), nil)
}
