package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/shpitdev/catalog-attribute-enricher/internal/config"
	"github.com/shpitdev/catalog-attribute-enricher/internal/logging"
	"github.com/shpitdev/catalog-attribute-enricher/internal/redact"
	"github.com/shpitdev/catalog-attribute-enricher/internal/version"
	"github.com/spf13/cobra"
)

// Process exit codes.
const (
	exitRunFailed   = 1
	exitConfigError = 2
)

// exitError carries the process exit code for a failed command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func configError(err error) error { return &exitError{code: exitConfigError, err: err} }
func runError(err error) error    { return &exitError{code: exitRunFailed, err: err} }

// Persistent flags.
var (
	configPath string
	logLevel   string
	logFile    string
)

// env is the per-process state built before any subcommand runs.
var env struct {
	cfg      config.Config
	logger   zerolog.Logger
	closeLog func() error
}

var rootCmd = &cobra.Command{
	Use:   "enricher",
	Short: "Enrich a product catalog with image attributes from Gemini",
	Long: `enricher sends each catalog item's image with a fixed instruction prompt to Gemini
and stores the returned attributes in the catalog. Every processed item is
checkpointed, so an interrupted run resumes where it stopped.

Examples:
  enricher check
  enricher benchmark --samples 5,10,20
  enricher run --catalog products.csv --output enriched.csv
  enricher estimate --report timing_report_10_samples.json
  enricher requeue --marker ERROR_QUOTA_EXCEEDED

Environment:
  GEMINI_API_KEY             Gemini API key (required for run and benchmark)
  GEMINI_MODEL               Model name (default gemini-2.5-flash)
  GEMINI_BASE_URL            Optional base URL override (proxies/testing)
  ENRICHER_MAX_RETRIES       Attempts per item (default 5)
  ENRICHER_BASE_DELAY        Retry backoff base, e.g. 1.5s
  ENRICHER_INITIAL_DELAY     Adaptive delay reference, e.g. 1s
  ENRICHER_QUOTA_PER_MINUTE  Account quota used for pacing and estimates
  ENRICHER_REQUEST_TIMEOUT   Per-call timeout
  ENRICHER_ENFORCE_QUOTA     Wait on a quota token bucket before each call
  ENRICHER_LOG_LEVEL         debug, info, warn, error`,
	Version:           version.Current,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "YAML config file")
	pf.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (env: ENRICHER_LOG_LEVEL)")
	pf.StringVar(&logFile, "log-file", "", "Persistent JSON log file (default from config)")

	rootCmd.AddCommand(
		newRunCmd(),
		newBenchmarkCmd(),
		newEstimateCmd(),
		newCheckCmd(),
		newRequeueCmd(),
		newExportCmd(),
	)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if env.closeLog != nil {
		_ = env.closeLog()
	}
	if err == nil {
		return
	}

	code := exitConfigError
	var ee *exitError
	if errors.As(err, &ee) {
		code = ee.code
	}
	_, _ = fmt.Fprintf(os.Stderr, "enricher: %s\n", redact.Secrets(err.Error()))
	os.Exit(code)
}

// setup loads configuration (defaults, file, environment, then flags), validates it
// and initializes logging.
func setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return configError(err)
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if cmd.Flags().Changed("log-file") {
		cfg.Paths.LogFile = logFile
	}
	applyCommandFlags(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return configError(err)
	}

	logger, closeLog, err := logging.Init(logging.Options{Level: cfg.LogLevel, File: cfg.Paths.LogFile})
	if err != nil {
		return configError(err)
	}
	env.cfg = cfg
	env.logger = logger
	env.closeLog = closeLog
	return nil
}
