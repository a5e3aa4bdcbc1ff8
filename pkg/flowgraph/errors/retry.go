package errors

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryConfig controls WithRetryContext.
type RetryConfig struct {
	// MaxAttempts counts the first call. Values below 1 mean 1.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
	// Jitter spreads each wait by up to ±Jitter of its length.
	Jitter float64

	// RetryableFunc replaces IsRetryable.
	RetryableFunc func(error) bool
	// OnRetry runs before each wait. attempt is the call that just failed.
	OnRetry func(attempt int, err error, backoff time.Duration)
}

// DefaultRetry is what NewRetryConfig starts from.
var DefaultRetry = RetryConfig{
	MaxAttempts:    3,
	InitialBackoff: time.Second,
	MaxBackoff:     30 * time.Second,
	BackoffFactor:  2,
	Jitter:         0.1,
}

type RetryOption func(*RetryConfig)

func WithMaxAttempts(n int) RetryOption {
	return func(c *RetryConfig) { c.MaxAttempts = n }
}

func WithInitialBackoff(d time.Duration) RetryOption {
	return func(c *RetryConfig) { c.InitialBackoff = d }
}

func WithMaxBackoff(d time.Duration) RetryOption {
	return func(c *RetryConfig) { c.MaxBackoff = d }
}

func WithJitter(j float64) RetryOption {
	return func(c *RetryConfig) { c.Jitter = j }
}

func WithOnRetry(fn func(attempt int, err error, backoff time.Duration)) RetryOption {
	return func(c *RetryConfig) { c.OnRetry = fn }
}

func WithRetryableFunc(fn func(error) bool) RetryOption {
	return func(c *RetryConfig) { c.RetryableFunc = fn }
}

// NewRetryConfig applies opts to DefaultRetry.
func NewRetryConfig(opts ...RetryOption) RetryConfig {
	c := DefaultRetry
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// RetryResult is the outcome of WithRetryContext. Err, when set, is a
// *CategorizedError carrying the category of the last failure.
type RetryResult[T any] struct {
	Value    T
	Err      error
	Attempts int
	Duration time.Duration
}

// WithRetryContext calls fn until it succeeds, fails with an error that
// is not retryable, runs out of attempts, or ctx is done.
func WithRetryContext[T any](ctx context.Context, cfg RetryConfig, fn func(context.Context) (T, error)) RetryResult[T] {
	began := time.Now()
	retryable := cfg.RetryableFunc
	if retryable == nil {
		retryable = IsRetryable
	}
	attempts := max(cfg.MaxAttempts, 1)

	var res RetryResult[T]
	finish := func(err error, category Category, context string) RetryResult[T] {
		if err != nil {
			res.Err = &CategorizedError{Err: err, Category: category, Retries: res.Attempts, Context: context}
		}
		res.Duration = time.Since(began)
		return res
	}

	wait := cfg.InitialBackoff
	for {
		if err := ctx.Err(); err != nil {
			return finish(err, CategoryPermanent, "context cancelled")
		}

		res.Attempts++
		v, err := fn(ctx)
		switch {
		case err == nil:
			res.Value = v
			return finish(nil, 0, "")
		case !retryable(err):
			return finish(err, Categorize(err), "")
		case res.Attempts >= attempts:
			return finish(err, Categorize(err), "max retries exceeded")
		}

		d := jitter(wait, cfg.Jitter)
		if cfg.OnRetry != nil {
			cfg.OnRetry(res.Attempts, err, d)
		}
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return finish(ctx.Err(), CategoryPermanent, "context cancelled during backoff")
		case <-t.C:
		}
		wait = min(time.Duration(float64(wait)*cfg.BackoffFactor), cfg.MaxBackoff)
	}
}

func jitter(d time.Duration, j float64) time.Duration {
	if j <= 0 {
		return d
	}
	return d + time.Duration(float64(d)*j*(2*rand.Float64()-1))
}
