package ratecontrol

import (
	"time"
)

// Policy holds the tuning knobs for NextDelay. Zero fields take the defaults.
type Policy struct {
	// InitialDelay is the reference spacing the policy scales from.
	InitialDelay time.Duration
	// TargetSuccessRate at or above which the delay shrinks.
	TargetSuccessRate float64
	// StableSuccessRate at or above which the delay stays at InitialDelay.
	StableSuccessRate float64
	SpeedUp           float64
	SlowDown          float64

	// SlowLatency is the mean latency above which SlowLatencyFactor is applied.
	SlowLatency       time.Duration
	SlowLatencyFactor float64

	// Window is the number of most recent latencies considered.
	Window int
	// MinDelay is the floor for every returned delay.
	MinDelay time.Duration
}

// DefaultPolicy returns the policy with every default filled in.
func DefaultPolicy() Policy {
	return Policy{}.withDefaults()
}

func (p Policy) withDefaults() Policy {
	if p.InitialDelay <= 0 {
		p.InitialDelay = time.Second
	}
	if p.TargetSuccessRate <= 0 {
		p.TargetSuccessRate = 0.95
	}
	if p.StableSuccessRate <= 0 {
		p.StableSuccessRate = 0.8
	}
	if p.SpeedUp <= 0 {
		p.SpeedUp = 0.8
	}
	if p.SlowDown <= 0 {
		p.SlowDown = 1.5
	}
	if p.SlowLatency <= 0 {
		p.SlowLatency = 3 * time.Second
	}
	if p.SlowLatencyFactor <= 0 {
		p.SlowLatencyFactor = 1.3
	}
	if p.Window <= 0 {
		p.Window = 5
	}
	if p.MinDelay <= 0 {
		p.MinDelay = 500 * time.Millisecond
	}
	return p
}

// NextDelay computes the spacing before the next request from recent latencies and the
// running success/error counts. It only reads its inputs.
//
// The delay shrinks below InitialDelay only when the success rate reaches the target
// and the recent mean latency is not above SlowLatency.
func NextDelay(recent []time.Duration, successes, errors int, p Policy) time.Duration {
	p = p.withDefaults()

	rate := SuccessRate(successes, errors)
	d := float64(p.InitialDelay)
	switch {
	case rate >= p.TargetSuccessRate:
		d *= p.SpeedUp
	case rate >= p.StableSuccessRate:
	default:
		d *= p.SlowDown
	}

	if len(recent) > 0 {
		window := recent
		if len(window) > p.Window {
			window = window[len(window)-p.Window:]
		}
		if mean(window) > p.SlowLatency {
			d *= p.SlowLatencyFactor
		}
	}

	out := time.Duration(d)
	if out < p.MinDelay {
		out = p.MinDelay
	}
	return out
}

// SuccessRate returns s/(s+e), or 1 when nothing has been observed.
func SuccessRate(successes, errors int) float64 {
	total := successes + errors
	if total <= 0 {
		return 1
	}
	return float64(successes) / float64(total)
}

func mean(ds []time.Duration) time.Duration {
	if len(ds) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range ds {
		sum += d
	}
	return sum / time.Duration(len(ds))
}

// Controller keeps the per-run state NextDelay is computed from. State is not
// persisted across runs. Not safe for concurrent use.
type Controller struct {
	policy    Policy
	window    []time.Duration
	successes int
	errors    int
	current   time.Duration
}

func New(p Policy) *Controller {
	p = p.withDefaults()
	c := &Controller{policy: p, window: make([]time.Duration, 0, p.Window)}
	c.current = NextDelay(nil, 0, 0, p)
	return c
}

// Observe records one completed request and recomputes the current delay.
func (c *Controller) Observe(elapsed time.Duration, ok bool) time.Duration {
	if ok {
		c.successes++
	} else {
		c.errors++
	}
	if len(c.window) == c.policy.Window {
		copy(c.window, c.window[1:])
		c.window = c.window[:len(c.window)-1]
	}
	c.window = append(c.window, elapsed)
	c.current = NextDelay(c.window, c.successes, c.errors, c.policy)
	return c.current
}

// Next returns the delay to insert before the next request.
func (c *Controller) Next() time.Duration {
	return c.current
}

func (c *Controller) SuccessRate() float64 {
	return SuccessRate(c.successes, c.errors)
}

func (c *Controller) Counts() (successes, errors int) {
	return c.successes, c.errors
}

// Window returns a copy of the retained latencies, oldest first.
func (c *Controller) Window() []time.Duration {
	return append([]time.Duration(nil), c.window...)
}

func (c *Controller) Policy() Policy {
	return c.policy
}
