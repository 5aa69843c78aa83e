package app

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shpitdev/catalog-attribute-enricher/internal/catalog"
	"github.com/shpitdev/catalog-attribute-enricher/internal/config"
	"github.com/shpitdev/catalog-attribute-enricher/internal/inference"
	"github.com/shpitdev/catalog-attribute-enricher/internal/logging"
	"github.com/shpitdev/catalog-attribute-enricher/internal/metrics"
	"github.com/shpitdev/catalog-attribute-enricher/internal/ratecontrol"
	"github.com/shpitdev/catalog-attribute-enricher/internal/retry"
	"github.com/shpitdev/catalog-attribute-enricher/internal/runner"
	"github.com/shpitdev/catalog-attribute-enricher/internal/version"
)

type RunOptions struct {
	// Limit caps the number of items processed. Zero means all pending items.
	Limit int
	// ProjectFrom is an optional benchmark report used to project the run duration
	// before it starts.
	ProjectFrom string

	Collector *metrics.Collector
	// Sleep replaces every deliberate wait; nil uses real timers.
	Sleep retry.SleepFunc
	RunID string
}

type RunResult struct {
	RunID   string
	Output  string
	Summary runner.Summary
	Metrics metrics.RunMetrics
	// Counts is the catalog state after the run.
	Counts catalog.Counts
}

// RunLocal enriches the pending items of the configured catalog. The prompt and the
// catalog must be readable; per-item problems are written as markers instead.
func RunLocal(ctx context.Context, cfg config.Config, adapter inference.Adapter, logger zerolog.Logger, opts RunOptions) (RunResult, error) {
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	logger = logger.With().Str("run_id", opts.RunID).Logger()
	res := RunResult{RunID: opts.RunID, Output: cfg.OutputPath()}

	prompt, err := inference.LoadPrompt(cfg.Paths.Prompt)
	if err != nil {
		return res, fmt.Errorf("load prompt %s: %w", cfg.Paths.Prompt, err)
	}
	store, err := catalog.Open(cfg.Paths.Catalog, cfg.OutputPath(), cfg.Columns)
	if err != nil {
		return res, err
	}

	retryOpts := cfg.RetryOptions()
	policy := cfg.RatePolicy()
	startup := newStartup("run", opts.RunID, cfg).
		Path("catalog", cfg.Paths.Catalog).
		Path("output", cfg.OutputPath()).
		Path("images", cfg.Paths.Images).
		Path("prompt", cfg.Paths.Prompt).
		Setting("limit", fmt.Sprint(opts.Limit))
	startup.Log(logger)

	before := store.Counts()
	logger.Info().
		Int("total", before.Total).
		Int("pending", before.Pending).
		Int("processed", before.Processed()).
		Int("errored", before.Errored).
		Msg("catalog loaded")
	if opts.ProjectFrom != "" && before.Pending > 0 {
		logProjection(logger, opts.ProjectFrom, before.Pending, cfg)
	}

	agg := metrics.NewAggregator(metrics.AggregatorOptions{
		BaseDelay: policy.InitialDelay,
		Collector: opts.Collector,
	})
	r := runner.New(
		store,
		newTracedAdapter(adapter, logger),
		newRetryController(retryOpts, opts.Sleep, logger),
		ratecontrol.New(policy),
		agg,
		runner.Options{
			ImageDir: cfg.Paths.Images,
			Prompt:   prompt,
			Limit:    opts.Limit,
			Logger:   logger,
			Sleep:    opts.Sleep,
		},
	)

	sum, err := r.Run(ctx)
	res.Summary = sum
	res.Metrics = agg.Summarize()
	res.Counts = store.Counts()
	if err != nil {
		return res, err
	}

	ev := logger.Info()
	if sum.Interrupted {
		ev = logger.Warn().Bool("interrupted", true)
	}
	ev.
		Int("processed", sum.Processed).
		Int("ok", sum.Succeeded).
		Int("errors", sum.Failed).
		Int("pending", res.Counts.Pending).
		Dur("duration", sum.Duration).
		Float64("success_rate", res.Metrics.SuccessRate).
		Str("output", store.Path()).
		Msg("run complete")

	if res.Counts.Pending > 0 {
		if est, err := metrics.EstimateCompletion(res.Counts.Pending, res.Metrics, cfg.EstimateOptions()); err == nil {
			logEstimate(logger, "remaining items", est)
		}
	}
	return res, nil
}

func logProjection(logger zerolog.Logger, reportPath string, pending int, cfg config.Config) {
	rep, err := metrics.ReadReport(reportPath)
	if err != nil {
		logger.Warn().Err(err).Msg("projection skipped")
		return
	}
	m, err := rep.Latest()
	if err != nil {
		logger.Warn().Err(err).Msg("projection skipped")
		return
	}
	est, err := metrics.EstimateCompletion(pending, m, cfg.EstimateOptions())
	if err != nil {
		logger.Warn().Err(err).Msg("projection skipped")
		return
	}
	logEstimate(logger, "projected run", est)
}

func logEstimate(logger zerolog.Logger, msg string, e metrics.Estimate) {
	logger.Info().
		Int("items", e.TotalItems).
		Dur("per_item", e.EffectivePerItem).
		Float64("wall_clock_hours", e.WallClock.Hours).
		Float64("quota_limited_days", e.QuotaLimitedDays).
		Float64("realistic_days", e.RealisticDays).
		Bool("quota_bound", e.QuotaDominates()).
		Int("daily_limit", e.DailyLimit).
		Msg(msg)
}

func newStartup(command, runID string, cfg config.Config) *logging.StartupLogger {
	return logging.NewStartupLogger(command).
		Version(version.Current).
		RunID(runID).
		Setting("model", cfg.Gemini.Model).
		Setting("max_attempts", fmt.Sprint(cfg.Retry.MaxAttempts)).
		Setting("base_delay", cfg.Retry.BaseDelay.String()).
		Setting("request_timeout", cfg.Retry.RequestTimeout.String()).
		Setting("initial_delay", cfg.Rate.InitialDelay.String()).
		Setting("target_success_rate", fmt.Sprint(cfg.Rate.TargetSuccessRate)).
		Setting("quota_per_minute", fmt.Sprint(cfg.Rate.QuotaPerMinute)).
		Feature("enforce_quota", cfg.Rate.EnforceQuota).
		Feature("custom_base_url", cfg.Gemini.BaseURL != "")
}
