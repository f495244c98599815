package commands

import (
	"fmt"
	"os"

	"github.com/dyluth/exofit/internal/instance"
	"github.com/dyluth/exofit/internal/printer"
	"github.com/dyluth/exofit/pkg/chainstore"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const redisURLEnv = "EXOFIT_REDIS_URL"

var (
	version string
	commit  string
	date    string

	verbose      bool
	redisURL     string
	instanceName string

	logger = zap.NewNop()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "exofit",
	Short: "exofit - Bayesian transit and radial-velocity fitting",
	Long: `exofit fits transit light curves and radial-velocity curves of
exoplanets with an affine-invariant ensemble MCMC sampler.

Fits are described by a YAML configuration naming the data files, the
per-instrument models and the prior of every parameter. When a Redis URL is
given, runs and their chains are stored so they can be listed, resumed and
watched live.`,
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := newLogger(verbose)
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		logger = l
		if err := instance.ValidateName(instanceName); err != nil {
			return printer.Error(
				"invalid instance name",
				err.Error(),
				[]string{"Instance names look like 'default' or 'kepler-10'"},
			)
		}
		return nil
	},
	// Unknown flags on the bare root command must not succeed silently
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	// Errors are printed with color by the printer package
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	defer func() { _ = logger.Sync() }()
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug events to stderr")
	rootCmd.PersistentFlags().StringVar(&redisURL, "redis-url", os.Getenv(redisURLEnv), "Redis URL for run storage (env "+redisURLEnv+")")
	rootCmd.PersistentFlags().StringVarP(&instanceName, "instance", "n", "default", "Namespace for stored runs")
}

// newLogger builds a JSON logger on stderr. Only warnings and errors are
// written unless verbose is set.
func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

// openStore connects to the run store named by --redis-url.
func openStore() (*chainstore.Client, error) {
	if redisURL == "" {
		return nil, printer.Error(
			"no run store configured",
			"This command reads runs from Redis but no URL was given.",
			[]string{
				"Pass the store address:\n  exofit --redis-url redis://localhost:6379/0 ...",
				"Or set " + redisURLEnv + " in the environment",
			},
		)
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, printer.Error(
			"invalid Redis URL",
			fmt.Sprintf("Could not parse '%s': %v", redisURL, err),
			[]string{"Use the form redis://[user:password@]host:port/db"},
		)
	}
	return chainstore.NewClient(opts, instanceName)
}
