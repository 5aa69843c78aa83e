package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shpitdev/catalog-attribute-enricher/internal/app"
	"github.com/shpitdev/catalog-attribute-enricher/internal/config"
	"github.com/shpitdev/catalog-attribute-enricher/internal/inference"
	"github.com/shpitdev/catalog-attribute-enricher/internal/inference/gemini"
	"github.com/shpitdev/catalog-attribute-enricher/internal/metrics"
	"github.com/spf13/cobra"
)

// Command flags that override configuration. Only flags the user set are applied.
var flagValues struct {
	catalog     string
	output      string
	images      string
	prompt      string
	reportDir   string
	model       string
	baseURL     string
	metricsAddr string

	maxRetries   int
	baseDelay    time.Duration
	initialDelay time.Duration
	quota        int
	safety       float64
	enforceQuota bool
}

func addPathFlags(cmd *cobra.Command, names ...string) {
	f := cmd.Flags()
	for _, name := range names {
		switch name {
		case "catalog":
			f.StringVar(&flagValues.catalog, "catalog", "", "Input catalog CSV")
		case "output":
			f.StringVar(&flagValues.output, "output", "", "Output catalog CSV; resumed from when it exists")
		case "images":
			f.StringVar(&flagValues.images, "images", "", "Image directory")
		case "prompt":
			f.StringVar(&flagValues.prompt, "prompt", "", "Instruction prompt file")
		case "report-dir":
			f.StringVar(&flagValues.reportDir, "report-dir", "", "Directory for benchmark reports")
		}
	}
}

func addGeminiFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&flagValues.model, "model", "", "Gemini model (env: GEMINI_MODEL)")
	f.StringVar(&flagValues.baseURL, "base-url", "", "Gemini API base URL override (env: GEMINI_BASE_URL)")
	f.IntVar(&flagValues.maxRetries, "max-retries", 0, "Attempts per item (env: ENRICHER_MAX_RETRIES)")
	f.DurationVar(&flagValues.baseDelay, "base-delay", 0, "Retry backoff base (env: ENRICHER_BASE_DELAY)")
	f.DurationVar(&flagValues.initialDelay, "initial-delay", 0, "Adaptive delay reference (env: ENRICHER_INITIAL_DELAY)")
	f.BoolVar(&flagValues.enforceQuota, "enforce-quota", false, "Wait on a quota token bucket before each call (env: ENRICHER_ENFORCE_QUOTA)")
	f.StringVar(&flagValues.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
}

func addQuotaFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.IntVar(&flagValues.quota, "quota-per-minute", 0, "Account requests per minute (env: ENRICHER_QUOTA_PER_MINUTE)")
	f.Float64Var(&flagValues.safety, "safety-factor", 0, "Fraction of the quota to use (env: ENRICHER_SAFETY_FACTOR)")
}

func applyCommandFlags(cmd *cobra.Command, cfg *config.Config) {
	set := func(name string, apply func()) {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			apply()
		}
	}
	set("catalog", func() { cfg.Paths.Catalog = flagValues.catalog })
	set("output", func() { cfg.Paths.Output = flagValues.output })
	set("images", func() { cfg.Paths.Images = flagValues.images })
	set("prompt", func() { cfg.Paths.Prompt = flagValues.prompt })
	set("report-dir", func() { cfg.Paths.ReportDir = flagValues.reportDir })
	set("model", func() { cfg.Gemini.Model = flagValues.model })
	set("base-url", func() { cfg.Gemini.BaseURL = flagValues.baseURL })
	set("metrics-addr", func() { cfg.MetricsAddr = flagValues.metricsAddr })
	set("max-retries", func() { cfg.Retry.MaxAttempts = flagValues.maxRetries })
	set("base-delay", func() { cfg.Retry.BaseDelay = flagValues.baseDelay })
	set("initial-delay", func() { cfg.Rate.InitialDelay = flagValues.initialDelay })
	set("quota-per-minute", func() { cfg.Rate.QuotaPerMinute = flagValues.quota })
	set("safety-factor", func() { cfg.Rate.SafetyFactor = flagValues.safety })
	set("enforce-quota", func() { cfg.Rate.EnforceQuota = flagValues.enforceQuota })
}

func newAdapter(ctx context.Context, cfg config.Config) (inference.Adapter, error) {
	a, err := gemini.New(ctx, gemini.Config{
		APIKey:     cfg.Gemini.APIKey,
		Model:      cfg.Gemini.Model,
		BaseURL:    cfg.Gemini.BaseURL,
		Classifier: inference.NewClassifier(cfg.Classify),
	})
	if err != nil {
		return nil, configError(err)
	}
	return a, nil
}

// serveMetrics exposes the default Prometheus registry until the returned function
// is called. An empty address disables the endpoint.
func serveMetrics(addr string) func() {
	if strings.TrimSpace(addr) == "" {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		env.logger.Info().Str("addr", addr).Msg("metrics endpoint listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			env.logger.Error().Err(err).Msg("metrics endpoint failed")
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func newRunCmd() *cobra.Command {
	var (
		limit       int
		projectFrom string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Enrich every pending catalog item",
		Long: `run sends each pending item's image to Gemini, one at a time, and commits the
result (or an ERROR_* marker) to the output catalog before the next request.
Interrupt with Ctrl-C; the next run resumes from the first pending item.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			adapter, err := newAdapter(ctx, env.cfg)
			if err != nil {
				return err
			}
			stop := serveMetrics(env.cfg.MetricsAddr)
			defer stop()

			res, err := app.RunLocal(ctx, env.cfg, adapter, env.logger, app.RunOptions{
				Limit:       limit,
				ProjectFrom: projectFrom,
				Collector:   metrics.NewCollector(nil),
			})
			if err != nil {
				return runError(err)
			}
			_, _ = fmt.Fprintf(os.Stdout, "processed %d (ok %d, errors %d), %d pending, output %s\n",
				res.Summary.Processed, res.Summary.Succeeded, res.Summary.Failed, res.Counts.Pending, res.Output)
			return nil
		},
	}
	addPathFlags(cmd, "catalog", "output", "images", "prompt")
	addGeminiFlags(cmd)
	addQuotaFlags(cmd)
	cmd.Flags().IntVar(&limit, "limit", 0, "Process at most this many pending items (0 = all)")
	cmd.Flags().StringVar(&projectFrom, "project-from", "", "Benchmark report used to project the run duration up front")
	return cmd
}

func newBenchmarkCmd() *cobra.Command {
	var (
		samples []int
		volumes []int
	)
	cmd := &cobra.Command{
		Use:   "benchmark",
		Short: "Time sample images and write an optimization report",
		Long: `benchmark sends the first N images of the image directory through the same
retry and rate logic as run, without touching the catalog, and writes
timing_report_<N>_samples.json for every sample size.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			adapter, err := newAdapter(ctx, env.cfg)
			if err != nil {
				return err
			}
			stop := serveMetrics(env.cfg.MetricsAddr)
			defer stop()

			res, err := app.Benchmark(ctx, env.cfg, adapter, env.logger, app.BenchmarkOptions{
				SampleSizes: samples,
				Volumes:     volumes,
				Collector:   metrics.NewCollector(nil),
			})
			if err != nil {
				return runError(err)
			}
			for _, p := range res.Reports {
				_, _ = fmt.Fprintf(os.Stdout, "report written: %s\n", p)
			}
			printEstimates(res.Estimates)
			return nil
		},
	}
	addPathFlags(cmd, "images", "prompt", "report-dir")
	addGeminiFlags(cmd)
	addQuotaFlags(cmd)
	cmd.Flags().IntSliceVar(&samples, "samples", app.DefaultSampleSizes, "Sample sizes to run, e.g. 5,10,20")
	cmd.Flags().IntSliceVar(&volumes, "volumes", metrics.DefaultVolumes, "Catalog sizes to project")
	return cmd
}

func newEstimateCmd() *cobra.Command {
	var (
		report  string
		volumes []int
	)
	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Project completion time from a saved benchmark report",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			ests, err := app.EstimateFromReport(report, volumes, env.cfg.EstimateOptions())
			if err != nil {
				return runError(err)
			}
			printEstimates(ests)
			return nil
		},
	}
	addQuotaFlags(cmd)
	cmd.Flags().StringVar(&report, "report", "", "Benchmark report JSON")
	cmd.Flags().IntSliceVar(&volumes, "volumes", metrics.DefaultVolumes, "Catalog sizes to project")
	_ = cmd.MarkFlagRequired("report")
	return cmd
}

func printEstimates(ests []metrics.Estimate) {
	if len(ests) == 0 {
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ITEMS\tHOURS\tDAYS\tQUOTA DAYS\tREALISTIC DAYS\tDAILY LIMIT\tBATCH")
	for _, e := range ests {
		_, _ = fmt.Fprintf(w, "%d\t%.1f\t%.2f\t%.2f\t%.2f\t%d\t%d\n",
			e.TotalItems, e.WallClock.Hours, e.WallClock.Days, e.QuotaLimitedDays, e.RealisticDays, e.DailyLimit, e.OptimalBatchSize)
	}
	_ = w.Flush()
}

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify the prompt, catalog and image directory",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			res, err := app.Check(env.cfg)
			_, _ = fmt.Fprintf(os.Stdout, "images: %d\ncatalog: %d items, %d pending, %d processed (%d errors)\n",
				res.ImageCount, res.Counts.Total, res.Counts.Pending, res.Counts.Processed(), res.Counts.Errored)
			if err != nil {
				return runError(err)
			}
			return nil
		},
	}
	addPathFlags(cmd, "catalog", "output", "images", "prompt")
	return cmd
}

func newRequeueCmd() *cobra.Command {
	var markers []string
	cmd := &cobra.Command{
		Use:   "requeue",
		Short: "Clear ERROR_* results so those items are retried on the next run",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			n, err := app.Requeue(env.cfg, markers)
			if err != nil {
				return runError(err)
			}
			env.logger.Info().Int("requeued", n).Strs("markers", markers).Str("output", env.cfg.OutputPath()).Msg("requeue complete")
			return nil
		},
	}
	addPathFlags(cmd, "catalog", "output")
	cmd.Flags().StringSliceVar(&markers, "marker", nil, "Only clear these markers, e.g. ERROR_QUOTA_EXCEEDED (repeatable)")
	return cmd
}

func newExportCmd() *cobra.Command {
	var xlsx string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the catalog to an XLSX workbook with a status column",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			counts, err := app.Export(env.cfg, xlsx)
			if err != nil {
				return runError(err)
			}
			env.logger.Info().Str("path", xlsx).Int("items", counts.Total).Int("pending", counts.Pending).Msg("export complete")
			return nil
		},
	}
	addPathFlags(cmd, "catalog", "output")
	cmd.Flags().StringVar(&xlsx, "xlsx", "catalog.xlsx", "Workbook path")
	return cmd
}
