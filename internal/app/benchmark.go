package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shpitdev/catalog-attribute-enricher/internal/catalog"
	"github.com/shpitdev/catalog-attribute-enricher/internal/config"
	"github.com/shpitdev/catalog-attribute-enricher/internal/inference"
	"github.com/shpitdev/catalog-attribute-enricher/internal/metrics"
	"github.com/shpitdev/catalog-attribute-enricher/internal/ratecontrol"
	"github.com/shpitdev/catalog-attribute-enricher/internal/retry"
	"github.com/shpitdev/catalog-attribute-enricher/internal/runner"
)

// ErrNoImages is returned when the image directory holds no usable images.
var ErrNoImages = errors.New("no images found")

// DefaultSampleSizes are used when a benchmark is started without explicit sizes.
var DefaultSampleSizes = []int{10}

type BenchmarkOptions struct {
	SampleSizes []int
	// Volumes to project after each sample; nil uses metrics.DefaultVolumes.
	Volumes []int

	Collector *metrics.Collector
	Sleep     retry.SleepFunc
	Now       func() time.Time
	RunID     string
}

type BenchmarkResult struct {
	RunID string
	// History holds one entry per completed sample size, in order.
	History []metrics.RunMetrics
	// Reports are the written report paths, one per sample size.
	Reports      []string
	Optimization metrics.OptimizationConfig
	Estimates    []metrics.Estimate
}

// Benchmark sends sample images through the same retry and rate logic as a run,
// without touching the catalog, and writes one metrics report per sample size. Each
// report carries the metrics history accumulated so far.
func Benchmark(ctx context.Context, cfg config.Config, adapter inference.Adapter, logger zerolog.Logger, opts BenchmarkOptions) (BenchmarkResult, error) {
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if len(opts.SampleSizes) == 0 {
		opts.SampleSizes = DefaultSampleSizes
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger = logger.With().Str("run_id", opts.RunID).Logger()
	res := BenchmarkResult{RunID: opts.RunID}

	prompt, err := inference.LoadPrompt(cfg.Paths.Prompt)
	if err != nil {
		return res, fmt.Errorf("load prompt %s: %w", cfg.Paths.Prompt, err)
	}
	images, err := ListImages(cfg.Paths.Images)
	if err != nil {
		return res, err
	}
	if len(images) == 0 {
		return res, fmt.Errorf("%w in %s", ErrNoImages, cfg.Paths.Images)
	}

	newStartup("benchmark", opts.RunID, cfg).
		Path("images", cfg.Paths.Images).
		Path("prompt", cfg.Paths.Prompt).
		Path("report_dir", cfg.Paths.ReportDir).
		Setting("sample_sizes", fmt.Sprint(opts.SampleSizes)).
		Log(logger)

	traced := newTracedAdapter(adapter, logger)
	for _, n := range opts.SampleSizes {
		if n <= 0 {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		sample := images
		if len(sample) > n {
			sample = sample[:n]
		} else if len(sample) < n {
			logger.Warn().Int("requested", n).Int("found", len(sample)).Msg("fewer images than requested")
		}
		items := make([]catalog.Item, 0, len(sample))
		for _, name := range sample {
			items = append(items, catalog.Item{ID: name, Image: name})
		}

		sampleLogger := logger.With().Int("sample_size", n).Logger()
		policy := cfg.RatePolicy()
		agg := metrics.NewAggregator(metrics.AggregatorOptions{
			BaseDelay: policy.InitialDelay,
			Collector: opts.Collector,
			Now:       opts.Now,
		})
		r := runner.New(
			catalog.NewMemoryStore(items),
			traced,
			newRetryController(cfg.RetryOptions(), opts.Sleep, sampleLogger),
			ratecontrol.New(policy),
			agg,
			runner.Options{
				ImageDir: cfg.Paths.Images,
				Prompt:   prompt,
				Logger:   sampleLogger,
				Sleep:    opts.Sleep,
			},
		)
		sum, err := r.Run(ctx)
		if err != nil {
			return res, err
		}
		if sum.Processed == 0 {
			break
		}
		m := agg.Summarize()
		res.History = append(res.History, m)

		rep, err := metrics.NewReport(res.History, metrics.ReportOptions{
			Model:          cfg.Gemini.Model,
			QuotaPerMinute: cfg.Rate.QuotaPerMinute,
			SafetyFactor:   cfg.Rate.SafetyFactor,
			Volumes:        opts.Volumes,
			Now:            opts.Now,
		})
		if err != nil {
			return res, fmt.Errorf("build report: %w", err)
		}
		path := filepath.Join(cfg.Paths.ReportDir, metrics.ReportFileName(n))
		if err := metrics.WriteReport(path, rep); err != nil {
			return res, err
		}
		res.Reports = append(res.Reports, path)

		opt, _ := metrics.Optimize(m, cfg.Rate.QuotaPerMinute)
		res.Optimization = opt
		res.Estimates = rep.Estimates
		logBenchmark(sampleLogger, m, opt, path)
		for _, e := range rep.Estimates {
			logEstimate(sampleLogger, "volume estimate", e)
		}
		if sum.Interrupted {
			break
		}
	}
	return res, nil
}

func logBenchmark(logger zerolog.Logger, m metrics.RunMetrics, opt metrics.OptimizationConfig, reportPath string) {
	ev := logger.Info().
		Int("requests", m.Requests()).
		Int("ok", m.Successes).
		Int("errors", m.Errors).
		Float64("success_rate", m.SuccessRate).
		Dur("mean", m.Mean).
		Dur("median", m.Median).
		Dur("min", m.Min).
		Dur("max", m.Max).
		Float64("requests_per_minute", m.RequestsPerMinute).
		Float64("minutes_per_1000", m.EstimatedPer1000.Minutes()).
		Dur("optimal_delay", opt.OptimalDelay).
		Int("batch_size", opt.BatchSize).
		Int("checkpoint_frequency", opt.CheckpointFrequency).
		Int("recommended_daily_limit", opt.RecommendedDailyLimit).
		Str("report", reportPath)
	if m.QuotaErrors > 0 {
		ev = ev.Int("quota_errors", m.QuotaErrors)
	}
	if m.RateLimitErrors > 0 {
		ev = ev.Int("rate_limit_errors", m.RateLimitErrors)
	}
	ev.Msg("benchmark complete")
}

// ListImages returns the image file names in dir, sorted.
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read image dir: %w", err)
	}
	exts := inference.ImageExtensions()
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if slices.Contains(exts, strings.ToLower(filepath.Ext(e.Name()))) {
			out = append(out, e.Name())
		}
	}
	slices.Sort(out)
	return out, nil
}
