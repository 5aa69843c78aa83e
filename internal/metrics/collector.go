package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shpitdev/catalog-attribute-enricher/internal/inference"
)

// Collector exports run progress to Prometheus. A nil *Collector is a no-op.
type Collector struct {
	ItemsTotal      *prometheus.CounterVec
	RetriesTotal    prometheus.Counter
	RequestDuration prometheus.Histogram
	CurrentDelay    prometheus.Gauge
	ItemsPending    prometheus.Gauge
}

// NewCollector registers the enricher metrics with reg. A nil reg uses the default
// registerer.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Collector{
		ItemsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enricher_items_total",
				Help: "Total number of items processed, by outcome kind.",
			},
			[]string{"kind"},
		),
		RetriesTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "enricher_retries_total",
				Help: "Total number of retried inference calls.",
			},
		),
		RequestDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "enricher_request_duration_seconds",
				Help:    "Time spent in inference calls per item, excluding retry sleeps.",
				Buckets: []float64{0.5, 1, 2, 3, 5, 10, 30, 60},
			},
		),
		CurrentDelay: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "enricher_current_delay_seconds",
				Help: "Current adaptive delay between requests.",
			},
		),
		ItemsPending: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "enricher_items_pending",
				Help: "Number of catalog items still pending.",
			},
		),
	}
}

func (c *Collector) ObserveOutcome(o inference.Outcome) {
	if c == nil {
		return
	}
	c.ItemsTotal.WithLabelValues(o.Kind.String()).Inc()
	if o.Attempts > 1 {
		c.RetriesTotal.Add(float64(o.Attempts - 1))
	}
	if o.Attempts > 0 {
		c.RequestDuration.Observe(o.Elapsed.Seconds())
	}
}

func (c *Collector) SetDelay(d time.Duration) {
	if c == nil {
		return
	}
	c.CurrentDelay.Set(d.Seconds())
}

func (c *Collector) SetPending(n int) {
	if c == nil {
		return
	}
	c.ItemsPending.Set(float64(n))
}
