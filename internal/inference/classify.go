package inference

import (
	"context"
	"errors"
	"strings"
)

// Patterns are case-insensitive substrings matched against error text.
//
// Quota patterns are checked first: a 429 that mentions the quota is a
// QuotaExceeded, a 429 without it is RateLimited.
type Patterns struct {
	Quota     []string `yaml:"quota"`
	RateLimit []string `yaml:"rate_limit"`
	// Fatal patterns mark provider errors that will never succeed on retry
	// (for example an invalid API key). Empty by default: unknown errors are transient.
	Fatal []string `yaml:"fatal"`
}

// DefaultPatterns returns the documented default classification patterns.
//
//	quota:      "resource_exhausted", "resource exhausted", "quota"
//	rate_limit: "429", "rate limit", "rate_limit", "ratelimit", "too many requests"
//	fatal:      (none)
func DefaultPatterns() Patterns {
	return Patterns{
		Quota:     []string{"resource_exhausted", "resource exhausted", "quota"},
		RateLimit: []string{"429", "rate limit", "rate_limit", "ratelimit", "too many requests"},
	}
}

// Classifier maps adapter errors onto outcome kinds.
type Classifier struct {
	quota     []string
	rateLimit []string
	fatal     []string
}

// NewClassifier builds a classifier. Empty pattern lists fall back to DefaultPatterns
// for quota and rate-limit matching.
func NewClassifier(p Patterns) *Classifier {
	def := DefaultPatterns()
	if len(p.Quota) == 0 {
		p.Quota = def.Quota
	}
	if len(p.RateLimit) == 0 {
		p.RateLimit = def.RateLimit
	}
	return &Classifier{
		quota:     normalizePatterns(p.Quota),
		rateLimit: normalizePatterns(p.RateLimit),
		fatal:     normalizePatterns(p.Fatal),
	}
}

// Classify returns the kind for err. A nil error is a success.
func (c *Classifier) Classify(err error) Kind {
	if err == nil {
		return KindSuccess
	}
	if errors.Is(err, ErrMissingInput) || errors.Is(err, ErrUnreadableImage) {
		return KindFatal
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	return c.ClassifyMessage(err.Error())
}

// ClassifyMessage classifies raw error text.
func (c *Classifier) ClassifyMessage(msg string) Kind {
	lower := strings.ToLower(msg)
	switch {
	case containsAny(lower, c.fatal):
		return KindFatal
	case containsAny(lower, c.quota):
		return KindQuotaExceeded
	case containsAny(lower, c.rateLimit):
		return KindRateLimited
	default:
		return KindTransient
	}
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

func normalizePatterns(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
