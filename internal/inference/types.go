package inference

import (
	"context"
	"errors"
	"time"
)

// Kind classifies the result of a single request to the inference service.
type Kind int

const (
	KindSuccess Kind = iota
	KindQuotaExceeded
	KindRateLimited
	KindTransient
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindRateLimited:
		return "rate_limited"
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Retryable reports whether a failure of this kind may succeed on a later attempt.
func (k Kind) Retryable() bool {
	return k == KindQuotaExceeded || k == KindRateLimited || k == KindTransient
}

var (
	// ErrMissingInput marks an item whose image (or the prompt) does not exist.
	ErrMissingInput = errors.New("missing input")
	// ErrUnreadableImage marks an image that exists but cannot be read or decoded.
	ErrUnreadableImage = errors.New("unreadable image")
	// ErrEmptyResponse marks a successful call that returned no text.
	ErrEmptyResponse = errors.New("empty response text")
)

// Request is the payload for one call: an image and the fixed instruction prompt.
type Request struct {
	Image    []byte
	MIMEType string
	Prompt   string
}

// Outcome is the result of one attempt, or of a whole retry sequence once it has
// passed through the retry controller.
type Outcome struct {
	// Text is the response payload; set only on success.
	Text string
	// Elapsed is the wall-clock time spent inside the service call(s), excluding
	// any retry sleep.
	Elapsed time.Duration
	Kind    Kind
	// Err is the original error for failed outcomes.
	Err error

	// Attempts is the number of calls made to the service. Zero means the request
	// never left the process (for example a missing image).
	Attempts int
	// Exhausted is set when the retry budget ran out on a retryable failure.
	Exhausted bool
}

// OK reports whether the outcome carries a usable response.
func (o Outcome) OK() bool {
	return o.Kind == KindSuccess
}

// Terminal reports whether no further attempts will be made for this outcome.
func (o Outcome) Terminal() bool {
	return o.Kind == KindSuccess || o.Kind == KindFatal || o.Exhausted
}

// Adapter submits one request to the inference service. Implementations make exactly
// one attempt and classify failures; they never retry.
type Adapter interface {
	Submit(ctx context.Context, req Request) Outcome
}

// AdapterFunc adapts a function to the Adapter interface.
type AdapterFunc func(ctx context.Context, req Request) Outcome

func (f AdapterFunc) Submit(ctx context.Context, req Request) Outcome {
	return f(ctx, req)
}
