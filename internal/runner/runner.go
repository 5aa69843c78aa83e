package runner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/shpitdev/catalog-attribute-enricher/internal/catalog"
	"github.com/shpitdev/catalog-attribute-enricher/internal/inference"
	"github.com/shpitdev/catalog-attribute-enricher/internal/metrics"
	"github.com/shpitdev/catalog-attribute-enricher/internal/ratecontrol"
	"github.com/shpitdev/catalog-attribute-enricher/internal/redact"
	"github.com/shpitdev/catalog-attribute-enricher/internal/retry"
)

// Store is the item collection the runner drains.
type Store interface {
	Pending() []catalog.Item
	Commit(catalog.Item) error
}

type Options struct {
	// ImageDir is joined with each item's image reference.
	ImageDir string
	Prompt   string
	// Limit caps the number of items processed in one run. Zero means no cap.
	Limit int

	Logger zerolog.Logger
	// Sleep is used for the inter-item delay; nil uses retry.Sleep.
	Sleep retry.SleepFunc
	// LoadImage defaults to inference.LoadImage.
	LoadImage func(path string) ([]byte, string, error)
}

// Summary describes one run.
type Summary struct {
	// Pending is the number of items scheduled for this run.
	Pending   int
	Processed int
	Succeeded int
	Failed    int
	// Interrupted is set when the context ended before every scheduled item was
	// processed. The item in flight at that moment stays pending.
	Interrupted bool
	Duration    time.Duration
}

// Runner processes pending items one at a time: each outcome is committed to the
// store before the next request is made.
type Runner struct {
	store   Store
	adapter inference.Adapter
	retry   *retry.Controller
	rate    *ratecontrol.Controller
	agg     *metrics.Aggregator
	opts    Options
}

func New(
	store Store,
	adapter inference.Adapter,
	retryCtl *retry.Controller,
	rateCtl *ratecontrol.Controller,
	agg *metrics.Aggregator,
	opts Options,
) *Runner {
	if opts.Sleep == nil {
		opts.Sleep = retry.Sleep
	}
	if opts.LoadImage == nil {
		opts.LoadImage = inference.LoadImage
	}
	return &Runner{
		store:   store,
		adapter: adapter,
		retry:   retryCtl,
		rate:    rateCtl,
		agg:     agg,
		opts:    opts,
	}
}

// Run drains the pending items. Per-item failures are written as error markers and
// never stop the run; a commit failure does. Context cancellation ends the run
// without error and leaves the remaining items pending.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	pending := r.store.Pending()
	if r.opts.Limit > 0 && len(pending) > r.opts.Limit {
		pending = pending[:r.opts.Limit]
	}

	sum := Summary{Pending: len(pending)}

	r.agg.SetPending(len(pending))
	r.agg.SetBaseDelay(r.rate.Next())

	for i, item := range pending {
		if ctx.Err() != nil {
			sum.Interrupted = true
			break
		}

		out, err := r.process(ctx, item)
		if err != nil {
			// Context ended mid-item; nothing is committed for it.
			sum.Interrupted = true
			break
		}
		if out.OK() && inference.NormalizeText(out.Text) == "" {
			out.Kind = inference.KindTransient
			out.Err = inference.ErrEmptyResponse
		}

		item.Result = inference.ResultText(out)
		if err := r.store.Commit(item); err != nil {
			sum.Duration = time.Since(start)
			return sum, fmt.Errorf("checkpoint item %q: %w", item.ID, err)
		}

		r.agg.Record(out)
		if out.Attempts > 0 {
			r.rate.Observe(out.Elapsed, out.OK())
		}
		delay := r.rate.Next()
		r.agg.SetBaseDelay(delay)
		r.agg.SetPending(len(pending) - i - 1)

		sum.Processed++
		if out.OK() {
			sum.Succeeded++
		} else {
			sum.Failed++
		}
		r.logItem(item, out, delay, i+1, len(pending))

		last := i == len(pending)-1
		if last || out.Attempts == 0 {
			continue
		}
		if err := r.opts.Sleep(ctx, delay); err != nil {
			sum.Interrupted = true
			break
		}
	}
	sum.Duration = time.Since(start)
	return sum, nil
}

func (r *Runner) process(ctx context.Context, item catalog.Item) (inference.Outcome, error) {
	if item.Image == "" {
		return inference.Outcome{
			Kind: inference.KindFatal,
			Err:  fmt.Errorf("item %q has no image reference: %w", item.ID, inference.ErrMissingInput),
		}, nil
	}

	path := filepath.Join(r.opts.ImageDir, item.Image)
	img, mimeType, err := r.opts.LoadImage(path)
	if err != nil {
		return inference.Outcome{
			Kind: inference.KindFatal,
			Err:  fmt.Errorf("%s: %w", item.Image, err),
		}, nil
	}

	return r.retry.Do(ctx, r.adapter, inference.Request{
		Image:    img,
		MIMEType: mimeType,
		Prompt:   r.opts.Prompt,
	})
}

func (r *Runner) logItem(item catalog.Item, out inference.Outcome, delay time.Duration, n, total int) {
	ev := r.opts.Logger.Info()
	status := "ok"
	if !out.OK() {
		ev = r.opts.Logger.Warn()
		status = "error"
	}
	ev = ev.
		Str("id", item.ID).
		Str("image", item.Image).
		Str("status", status).
		Str("kind", out.Kind.String()).
		Int("attempts", out.Attempts).
		Dur("elapsed", out.Elapsed).
		Dur("next_delay", delay).
		Str("completed", fmt.Sprintf("%d/%d", n, total))
	if out.Err != nil {
		ev = ev.Str("error", redact.Secrets(out.Err.Error()))
		if out.Exhausted {
			ev = ev.Bool("exhausted", true)
		}
		if errors.Is(out.Err, inference.ErrMissingInput) {
			ev = ev.Bool("missing_input", true)
		}
	}
	ev.Msg("item processed")
}
