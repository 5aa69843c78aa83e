package metrics

import (
	"sort"
	"time"

	"github.com/shpitdev/catalog-attribute-enricher/internal/inference"
)

// RunMetrics summarizes the outcomes recorded during one run or benchmark.
type RunMetrics struct {
	// Latencies holds the elapsed time of every outcome that reached the service, in
	// record order.
	Latencies       []time.Duration
	Successes       int
	Errors          int
	QuotaErrors     int
	RateLimitErrors int

	TotalTime time.Duration
	Mean      time.Duration
	Median    time.Duration
	Min       time.Duration
	Max       time.Duration

	RequestsPerMinute float64
	SuccessRate       float64
	// EstimatedPer1000 is the projected time for 1000 items at Mean plus BaseDelay.
	EstimatedPer1000 time.Duration
	// BaseDelay is the inter-request spacing in effect when the summary was taken.
	BaseDelay time.Duration
}

// Requests returns the number of recorded outcomes.
func (m RunMetrics) Requests() int {
	return m.Successes + m.Errors
}

type AggregatorOptions struct {
	// BaseDelay seeds the spacing used for EstimatedPer1000 until SetBaseDelay is called.
	BaseDelay time.Duration
	// Collector, when set, mirrors every record to Prometheus.
	Collector *Collector
	// Now defaults to time.Now.
	Now func() time.Time
}

// Aggregator accumulates outcomes. It is owned by a single runner and not safe for
// concurrent use.
type Aggregator struct {
	opts  AggregatorOptions
	start time.Time
	m     RunMetrics
}

func NewAggregator(opts AggregatorOptions) *Aggregator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	a := &Aggregator{opts: opts, start: opts.Now()}
	a.m.BaseDelay = opts.BaseDelay
	return a
}

// Record adds one terminal outcome. Outcomes that never reached the service count as
// errors but contribute no latency sample.
func (a *Aggregator) Record(o inference.Outcome) {
	if o.Attempts > 0 {
		a.m.Latencies = append(a.m.Latencies, o.Elapsed)
	}
	if o.OK() {
		a.m.Successes++
	} else {
		a.m.Errors++
		switch o.Kind {
		case inference.KindQuotaExceeded:
			a.m.QuotaErrors++
		case inference.KindRateLimited:
			a.m.RateLimitErrors++
		}
	}
	a.opts.Collector.ObserveOutcome(o)
}

// SetBaseDelay updates the spacing reported in the summary.
func (a *Aggregator) SetBaseDelay(d time.Duration) {
	a.m.BaseDelay = d
	a.opts.Collector.SetDelay(d)
}

// SetPending forwards the pending item count to the collector.
func (a *Aggregator) SetPending(n int) {
	a.opts.Collector.SetPending(n)
}

// Summarize derives the statistics from what has been recorded so far.
func (a *Aggregator) Summarize() RunMetrics {
	m := a.m
	m.Latencies = append([]time.Duration(nil), a.m.Latencies...)
	m.TotalTime = a.opts.Now().Sub(a.start)
	return derive(m)
}

func derive(m RunMetrics) RunMetrics {
	if total := m.Requests(); total > 0 {
		m.SuccessRate = float64(m.Successes) / float64(total)
	}
	if len(m.Latencies) == 0 {
		return m
	}

	sorted := append([]time.Duration(nil), m.Latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	n := len(sorted)
	m.Mean = sum / time.Duration(n)
	m.Min = sorted[0]
	m.Max = sorted[n-1]
	if n%2 == 1 {
		m.Median = sorted[n/2]
	} else {
		m.Median = (sorted[n/2-1] + sorted[n/2]) / 2
	}
	if m.TotalTime > 0 {
		m.RequestsPerMinute = float64(n) / m.TotalTime.Minutes()
	}
	m.EstimatedPer1000 = (m.Mean + m.BaseDelay) * 1000
	return m
}
