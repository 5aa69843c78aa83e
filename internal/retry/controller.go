package retry

import (
	"context"
	"math"
	"time"

	"github.com/shpitdev/catalog-attribute-enricher/internal/inference"
	"golang.org/x/time/rate"
)

type Options struct {
	// MaxAttempts is the total number of calls per item, including the first.
	MaxAttempts int
	// BaseDelay scales every backoff sleep.
	BaseDelay time.Duration
	// QuotaMultiplier is the exponential base for QuotaExceeded backoff. Quota windows
	// reset slower than rate windows, so this grows faster than BackoffMultiplier.
	QuotaMultiplier float64
	// BackoffMultiplier is the exponential base for RateLimited and Transient backoff.
	BackoffMultiplier float64
	// RequestTimeout bounds a single call. Zero disables the per-call timeout.
	RequestTimeout time.Duration

	// Limiter, when set, is waited on before every call so the account quota is never
	// exceeded even if the adaptive delay gets aggressive.
	Limiter *rate.Limiter
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = 1500 * time.Millisecond
	}
	if o.QuotaMultiplier <= 1 {
		o.QuotaMultiplier = 3
	}
	if o.BackoffMultiplier <= 1 {
		o.BackoffMultiplier = 2
	}
	return o
}

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the production SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Attempt describes one call made by the controller.
type Attempt struct {
	// Number is 1-based.
	Number  int
	Outcome inference.Outcome
	// Backoff is the sleep scheduled before the next call; zero when no retry follows.
	Backoff time.Duration
}

// Controller wraps an adapter call with bounded, kind-aware retries.
type Controller struct {
	opts      Options
	sleep     SleepFunc
	onAttempt func(Attempt)
}

// New builds a controller. A nil sleep uses Sleep.
func New(opts Options, sleep SleepFunc) *Controller {
	if sleep == nil {
		sleep = Sleep
	}
	return &Controller{opts: opts.withDefaults(), sleep: sleep}
}

// OnAttempt registers a hook called after every call, before any backoff sleep.
func (c *Controller) OnAttempt(fn func(Attempt)) {
	c.onAttempt = fn
}

// Options returns the effective options.
func (c *Controller) Options() Options {
	return c.opts
}

// Backoff returns the sleep before retry number attempt+1 after a failure of kind k.
// attempt is the zero-based index of the call that failed.
func Backoff(k inference.Kind, base time.Duration, attempt int, opts Options) time.Duration {
	opts = opts.withDefaults()
	mult := opts.BackoffMultiplier
	if k == inference.KindQuotaExceeded {
		mult = opts.QuotaMultiplier
	}
	return time.Duration(float64(base) * math.Pow(mult, float64(attempt)))
}

// Do runs up to MaxAttempts calls. It returns on the first success or fatal outcome;
// when the budget runs out the last outcome is returned with Exhausted set and the
// original error preserved. The returned Elapsed is the latency of the final call
// only.
//
// The returned error is non-nil only when ctx ends; the item must then be treated as
// still pending.
func (c *Controller) Do(ctx context.Context, adapter inference.Adapter, req inference.Request) (inference.Outcome, error) {
	var last inference.Outcome
	for attempt := 0; attempt < c.opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return last, err
		}
		if c.opts.Limiter != nil {
			if err := c.opts.Limiter.Wait(ctx); err != nil {
				return last, err
			}
		}

		reqCtx := ctx
		var cancel context.CancelFunc
		if c.opts.RequestTimeout > 0 {
			reqCtx, cancel = context.WithTimeout(ctx, c.opts.RequestTimeout)
		}
		out := adapter.Submit(reqCtx, req)
		if cancel != nil {
			cancel()
		}
		if err := ctx.Err(); err != nil {
			return out, err
		}

		out.Attempts = attempt + 1
		last = out

		retry := out.Kind.Retryable() && attempt < c.opts.MaxAttempts-1
		var backoff time.Duration
		if retry {
			backoff = Backoff(out.Kind, c.opts.BaseDelay, attempt, c.opts)
		}
		if c.onAttempt != nil {
			c.onAttempt(Attempt{Number: attempt + 1, Outcome: out, Backoff: backoff})
		}
		if !out.Kind.Retryable() {
			return out, nil
		}
		if !retry {
			break
		}
		if err := c.sleep(ctx, backoff); err != nil {
			return last, err
		}
	}
	last.Exhausted = true
	return last, nil
}

// QuotaLimiter returns a limiter that admits at most perMinute*safety calls per minute.
// It returns nil when perMinute is not positive.
func QuotaLimiter(perMinute int, safety float64) *rate.Limiter {
	if perMinute <= 0 {
		return nil
	}
	if safety <= 0 || safety > 1 {
		safety = 1
	}
	interval := time.Duration(float64(time.Minute) / (float64(perMinute) * safety))
	return rate.NewLimiter(rate.Every(interval), 1)
}
