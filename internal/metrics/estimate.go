package metrics

import (
	"errors"
	"time"
)

// ErrInsufficientData is returned when no successful sample exists to project from.
var ErrInsufficientData = errors.New("insufficient data: no successful requests recorded")

const (
	DefaultQuotaPerMinute = 10
	DefaultSafetyFactor   = 0.8

	minutesPerDay = 24 * 60
)

// DefaultVolumes are the catalog sizes projected after a benchmark.
var DefaultVolumes = []int{100, 1000, 10000, 50000, 100000}

type EstimateOptions struct {
	// QuotaPerMinute is the account limit. Zero or less means unbounded.
	QuotaPerMinute int
	// SafetyFactor is the fraction of the quota the run is allowed to use.
	SafetyFactor float64
	// BaseDelay overrides the spacing recorded in the metrics when positive.
	BaseDelay time.Duration
}

func (o EstimateOptions) withDefaults() EstimateOptions {
	if o.SafetyFactor <= 0 || o.SafetyFactor > 1 {
		o.SafetyFactor = DefaultSafetyFactor
	}
	return o
}

// Breakdown expresses one duration in several units.
type Breakdown struct {
	Seconds float64 `json:"seconds"`
	Minutes float64 `json:"minutes"`
	Hours   float64 `json:"hours"`
	Days    float64 `json:"days"`
}

func breakdown(d time.Duration) Breakdown {
	return Breakdown{
		Seconds: d.Seconds(),
		Minutes: d.Minutes(),
		Hours:   d.Hours(),
		Days:    d.Hours() / 24,
	}
}

// Estimate projects the cost of processing TotalItems.
type Estimate struct {
	TotalItems int `json:"total_items"`

	// EffectivePerItem is (mean latency + base delay) / success rate.
	EffectivePerItem time.Duration `json:"-"`
	WallClock        Breakdown     `json:"estimated_time"`
	// QuotaLimitedDays is zero when the quota is unbounded.
	QuotaLimitedDays float64 `json:"quota_limited_days"`
	RealisticDays    float64 `json:"realistic_days"`

	RequestsPerMinute   float64 `json:"requests_per_minute"`
	SuccessRate         float64 `json:"success_rate"`
	AverageResponseTime float64 `json:"average_response_time"`

	// DailyLimit is the number of items the quota admits per day at the safety factor.
	DailyLimit       int `json:"daily_processing_limit"`
	OptimalBatchSize int `json:"optimal_batch_size"`
}

// QuotaDominates reports whether the quota, not the request speed, bounds the run.
func (e Estimate) QuotaDominates() bool {
	return e.QuotaLimitedDays > 0 && e.QuotaLimitedDays >= e.WallClock.Days
}

// EstimateCompletion projects completion time for total items from observed metrics.
func EstimateCompletion(total int, m RunMetrics, opts EstimateOptions) (Estimate, error) {
	if m.Successes == 0 {
		return Estimate{}, ErrInsufficientData
	}
	opts = opts.withDefaults()
	m = derive(m)

	base := m.BaseDelay
	if opts.BaseDelay > 0 {
		base = opts.BaseDelay
	}
	perItem := time.Duration(float64(m.Mean+base) / m.SuccessRate)
	wall := time.Duration(float64(perItem) * float64(total))

	e := Estimate{
		TotalItems:          total,
		EffectivePerItem:    perItem,
		WallClock:           breakdown(wall),
		RequestsPerMinute:   m.RequestsPerMinute,
		SuccessRate:         m.SuccessRate,
		AverageResponseTime: m.Mean.Seconds(),
		OptimalBatchSize:    50,
	}
	if opts.QuotaPerMinute > 0 {
		daily := float64(opts.QuotaPerMinute) * opts.SafetyFactor * minutesPerDay
		e.QuotaLimitedDays = float64(total) / daily
		e.DailyLimit = int(daily)
		e.OptimalBatchSize = min(50, int(daily/20))
	}
	e.RealisticDays = max(e.WallClock.Days, e.QuotaLimitedDays)
	return e, nil
}

// EstimateVolumes runs EstimateCompletion for each volume, in order.
func EstimateVolumes(volumes []int, m RunMetrics, opts EstimateOptions) ([]Estimate, error) {
	out := make([]Estimate, 0, len(volumes))
	for _, v := range volumes {
		e, err := EstimateCompletion(v, m, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
