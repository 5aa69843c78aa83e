package metrics

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/shpitdev/catalog-attribute-enricher/internal/version"
)

// Report is the JSON document written after a benchmark. Durations are in seconds.
type Report struct {
	ID                string             `json:"id"`
	Timestamp         time.Time          `json:"timestamp"`
	Version           string             `json:"version"`
	TestConfiguration TestConfiguration  `json:"test_configuration"`
	Metrics           []MetricsRecord    `json:"metrics"`
	Optimization      OptimizationRecord `json:"optimization"`
	Estimates         []Estimate         `json:"estimates,omitempty"`
}

type TestConfiguration struct {
	Model        string  `json:"model"`
	QuotaLimit   int     `json:"quota_limit"`
	SafetyFactor float64 `json:"safety_factor"`
	SampleSize   int     `json:"sample_size"`
}

// MetricsRecord is the serialized form of RunMetrics.
type MetricsRecord struct {
	RequestTimes        []float64 `json:"request_times"`
	SuccessCount        int       `json:"success_count"`
	ErrorCount          int       `json:"error_count"`
	QuotaErrors         int       `json:"quota_errors"`
	RateLimitErrors     int       `json:"rate_limit_errors"`
	TotalProcessingTime float64   `json:"total_processing_time"`
	AverageResponseTime float64   `json:"average_response_time"`
	MedianResponseTime  float64   `json:"median_response_time"`
	MinResponseTime     float64   `json:"min_response_time"`
	MaxResponseTime     float64   `json:"max_response_time"`
	RequestsPerMinute   float64   `json:"requests_per_minute"`
	// EstimatedTimePer1000 is in minutes.
	EstimatedTimePer1000 float64 `json:"estimated_time_per_1000"`
	BaseDelay            float64 `json:"base_delay"`
}

type OptimizationRecord struct {
	OptimalDelay          float64 `json:"optimal_delay"`
	BatchSize             int     `json:"batch_size"`
	MaxConcurrent         int     `json:"max_concurrent"`
	CheckpointFrequency   int     `json:"checkpoint_frequency"`
	RecommendedDailyLimit int     `json:"recommended_daily_limit"`
}

func fromSeconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Record converts m to its serialized form.
func (m RunMetrics) Record() MetricsRecord {
	times := make([]float64, 0, len(m.Latencies))
	for _, d := range m.Latencies {
		times = append(times, d.Seconds())
	}
	return MetricsRecord{
		RequestTimes:         times,
		SuccessCount:         m.Successes,
		ErrorCount:           m.Errors,
		QuotaErrors:          m.QuotaErrors,
		RateLimitErrors:      m.RateLimitErrors,
		TotalProcessingTime:  m.TotalTime.Seconds(),
		AverageResponseTime:  m.Mean.Seconds(),
		MedianResponseTime:   m.Median.Seconds(),
		MinResponseTime:      m.Min.Seconds(),
		MaxResponseTime:      m.Max.Seconds(),
		RequestsPerMinute:    m.RequestsPerMinute,
		EstimatedTimePer1000: m.EstimatedPer1000.Minutes(),
		BaseDelay:            m.BaseDelay.Seconds(),
	}
}

// RunMetrics converts a record back. Derived statistics are taken from the record as
// written.
func (r MetricsRecord) RunMetrics() RunMetrics {
	lat := make([]time.Duration, 0, len(r.RequestTimes))
	for _, s := range r.RequestTimes {
		lat = append(lat, fromSeconds(s))
	}
	return RunMetrics{
		Latencies:         lat,
		Successes:         r.SuccessCount,
		Errors:            r.ErrorCount,
		QuotaErrors:       r.QuotaErrors,
		RateLimitErrors:   r.RateLimitErrors,
		TotalTime:         fromSeconds(r.TotalProcessingTime),
		Mean:              fromSeconds(r.AverageResponseTime),
		Median:            fromSeconds(r.MedianResponseTime),
		Min:               fromSeconds(r.MinResponseTime),
		Max:               fromSeconds(r.MaxResponseTime),
		RequestsPerMinute: r.RequestsPerMinute,
		SuccessRate:       successRate(r.SuccessCount, r.ErrorCount),
		EstimatedPer1000:  time.Duration(r.EstimatedTimePer1000 * float64(time.Minute)),
		BaseDelay:         fromSeconds(r.BaseDelay),
	}
}

func successRate(s, e int) float64 {
	if s+e == 0 {
		return 0
	}
	return float64(s) / float64(s+e)
}

func (o OptimizationConfig) Record() OptimizationRecord {
	return OptimizationRecord{
		OptimalDelay:          o.OptimalDelay.Seconds(),
		BatchSize:             o.BatchSize,
		MaxConcurrent:         o.MaxConcurrent,
		CheckpointFrequency:   o.CheckpointFrequency,
		RecommendedDailyLimit: o.RecommendedDailyLimit,
	}
}

type ReportOptions struct {
	Model          string
	QuotaPerMinute int
	SafetyFactor   float64
	// Volumes to project; nil uses DefaultVolumes.
	Volumes []int
	Now     func() time.Time
}

// NewReport builds a report from the metrics history. The optimization and the
// estimates use the most recent entry.
func NewReport(history []RunMetrics, opts ReportOptions) (Report, error) {
	if len(history) == 0 {
		return Report{}, ErrInsufficientData
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Volumes == nil {
		opts.Volumes = DefaultVolumes
	}
	if opts.SafetyFactor <= 0 || opts.SafetyFactor > 1 {
		opts.SafetyFactor = DefaultSafetyFactor
	}
	latest := history[len(history)-1]

	opt, err := Optimize(latest, opts.QuotaPerMinute)
	if err != nil {
		return Report{}, err
	}

	r := Report{
		ID:        uuid.NewString(),
		Timestamp: opts.Now().UTC(),
		Version:   version.Current,
		TestConfiguration: TestConfiguration{
			Model:        opts.Model,
			QuotaLimit:   opts.QuotaPerMinute,
			SafetyFactor: opts.SafetyFactor,
			SampleSize:   latest.Requests(),
		},
		Optimization: opt.Record(),
	}
	for _, m := range history {
		r.Metrics = append(r.Metrics, m.Record())
	}

	estimates, err := EstimateVolumes(opts.Volumes, latest, EstimateOptions{
		QuotaPerMinute: opts.QuotaPerMinute,
		SafetyFactor:   opts.SafetyFactor,
	})
	switch {
	case err == nil:
		r.Estimates = estimates
	case errors.Is(err, ErrInsufficientData):
		// A benchmark with no successes still yields a report, without projections.
	default:
		return Report{}, err
	}
	return r, nil
}

// Latest returns the most recent metrics entry.
func (r Report) Latest() (RunMetrics, error) {
	if len(r.Metrics) == 0 {
		return RunMetrics{}, ErrInsufficientData
	}
	return r.Metrics[len(r.Metrics)-1].RunMetrics(), nil
}

// WriteReport writes r to path, replacing any previous file.
func WriteReport(path string, r Report) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report dir: %w", err)
		}
	}
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	b = append(b, '\n')
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func ReadReport(path string) (Report, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Report{}, fmt.Errorf("read report: %w", err)
	}
	var r Report
	if err := json.Unmarshal(b, &r); err != nil {
		return Report{}, fmt.Errorf("decode report %s: %w", path, err)
	}
	return r, nil
}

// ReportFileName is the conventional report name for a benchmark of n samples.
func ReportFileName(n int) string {
	return fmt.Sprintf("timing_report_%d_samples.json", n)
}
