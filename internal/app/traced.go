package app

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shpitdev/catalog-attribute-enricher/internal/inference"
	"github.com/shpitdev/catalog-attribute-enricher/internal/redact"
	"github.com/shpitdev/catalog-attribute-enricher/internal/retry"
)

// tracedAdapter logs every call to the inference service at debug level.
type tracedAdapter struct {
	next   inference.Adapter
	logger zerolog.Logger
	calls  int
}

func newTracedAdapter(next inference.Adapter, logger zerolog.Logger) *tracedAdapter {
	return &tracedAdapter{next: next, logger: logger}
}

func (t *tracedAdapter) Submit(ctx context.Context, req inference.Request) inference.Outcome {
	t.calls++
	deadlineIn := "none"
	if d, ok := ctx.Deadline(); ok {
		deadlineIn = time.Until(d).Round(time.Millisecond).String()
	}
	t.logger.Debug().
		Int("call", t.calls).
		Str("mime_type", req.MIMEType).
		Int("image_bytes", len(req.Image)).
		Int("prompt_chars", len(req.Prompt)).
		Str("deadline_in", deadlineIn).
		Msg("inference request")

	out := t.next.Submit(ctx, req)

	ev := t.logger.Debug().
		Int("call", t.calls).
		Str("kind", out.Kind.String()).
		Dur("elapsed", out.Elapsed)
	if out.Err != nil {
		ev = ev.Bool("retryable", out.Kind.Retryable()).Str("error", redact.Secrets(out.Err.Error()))
	} else {
		ev = ev.Int("response_chars", len(out.Text))
	}
	ev.Msg("inference response")
	return out
}

// newRetryController builds the controller and logs each scheduled retry.
func newRetryController(opts retry.Options, sleep retry.SleepFunc, logger zerolog.Logger) *retry.Controller {
	c := retry.New(opts, sleep)
	maxAttempts := c.Options().MaxAttempts
	c.OnAttempt(func(a retry.Attempt) {
		if a.Outcome.OK() || a.Backoff <= 0 {
			return
		}
		ev := logger.Info()
		if a.Outcome.Kind == inference.KindQuotaExceeded {
			ev = logger.Warn()
		}
		ev.
			Int("attempt", a.Number).
			Int("max_attempts", maxAttempts).
			Str("kind", a.Outcome.Kind.String()).
			Dur("backoff", a.Backoff).
			Str("error", errText(a.Outcome.Err)).
			Msg("retrying")
	})
	return c
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return redact.Secrets(err.Error())
}
