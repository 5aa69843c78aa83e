package metrics

import (
	"time"
)

// OptimizationConfig is the recommended run configuration derived from a benchmark.
type OptimizationConfig struct {
	OptimalDelay          time.Duration
	BatchSize             int
	MaxConcurrent         int
	CheckpointFrequency   int
	RecommendedDailyLimit int
}

// Optimize derives a configuration from observed metrics and the account quota. A
// non-positive quota falls back to DefaultQuotaPerMinute.
func Optimize(m RunMetrics, quotaPerMinute int) (OptimizationConfig, error) {
	if m.Requests() == 0 {
		return OptimizationConfig{}, ErrInsufficientData
	}
	if quotaPerMinute <= 0 {
		quotaPerMinute = DefaultQuotaPerMinute
	}
	m = derive(m)

	var delay time.Duration
	switch {
	case m.SuccessRate >= 0.95:
		delay = max(500*time.Millisecond, m.Mean/10)
	case m.SuccessRate >= 0.8:
		delay = time.Duration(float64(m.Mean) * 0.3)
	default:
		delay = m.Mean / 2
	}

	batch := quotaPerMinute
	if m.QuotaErrors > 0 {
		batch = max(5, quotaPerMinute-2)
	}

	perMinute := min(float64(batch), float64(quotaPerMinute)*DefaultSafetyFactor)
	return OptimizationConfig{
		OptimalDelay:          delay,
		BatchSize:             batch,
		MaxConcurrent:         1,
		CheckpointFrequency:   max(1, batch/2),
		RecommendedDailyLimit: int(minutesPerDay * perMinute * 0.9),
	}, nil
}
