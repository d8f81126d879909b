package errors

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryConfig bounds how a failing operation is re-run.
type RetryConfig struct {
	// MaxAttempts counts the first try. Values below 1 mean 1.
	MaxAttempts int

	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// BackoffFactor multiplies the wait after each failure. Zero keeps the
	// backoff library default.
	BackoffFactor float64

	// Jitter randomizes each wait by up to this fraction.
	Jitter float64

	// AttemptTimeout bounds a single attempt. Zero means no bound.
	AttemptTimeout time.Duration

	// RetryableFunc replaces IsRetryable.
	RetryableFunc func(error) bool

	// OnRetry runs before each wait with the attempt that just failed.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DefaultRetry suits model calls: three tries, 2s doubling to 10s.
var DefaultRetry = RetryConfig{
	MaxAttempts:    3,
	InitialBackoff: 2 * time.Second,
	MaxBackoff:     10 * time.Second,
	BackoffFactor:  2.0,
	Jitter:         0.1,
}

// NoRetry runs the operation once.
var NoRetry = RetryConfig{
	MaxAttempts: 1,
}

// RetryResult is the outcome of a retried operation.
type RetryResult[T any] struct {
	Value    T
	Err      error
	Attempts int
	Duration time.Duration
}

// WithRetry is WithRetryContext without cancellation.
func WithRetry[T any](cfg RetryConfig, fn func() (T, error)) RetryResult[T] {
	return WithRetryContext(context.Background(), cfg, func(_ context.Context) (T, error) {
		return fn()
	})
}

// WithRetryContext runs fn until it succeeds, fails permanently, runs out
// of attempts or ctx ends. A failed result's Err is a *CategorizedError
// wrapping the last failure.
func WithRetryContext[T any](
	ctx context.Context,
	cfg RetryConfig,
	fn func(context.Context) (T, error),
) RetryResult[T] {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return RetryResult[T]{
			Err:      Mark(err, CategoryPermanent, "retry"),
			Duration: time.Since(start),
		}
	}

	isRetryable := cfg.RetryableFunc
	if isRetryable == nil {
		isRetryable = IsRetryable
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	attempts := 0
	var lastErr error
	op := func() (T, error) {
		attempts++
		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if cfg.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, cfg.AttemptTimeout)
		}
		defer cancel()

		value, err := fn(attemptCtx)
		if err == nil {
			return value, nil
		}
		lastErr = err
		if ctx.Err() != nil || !isRetryable(err) {
			return value, backoff.Permanent(err)
		}
		return value, err
	}

	value, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(newBackOff(cfg)),
		backoff.WithMaxTries(uint(maxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			if cfg.OnRetry != nil {
				cfg.OnRetry(attempts, err, wait)
			}
		}),
	)

	result := RetryResult[T]{Attempts: attempts, Duration: time.Since(start)}
	if err == nil {
		result.Value = value
		return result
	}

	final := &CategorizedError{Err: lastErr, Attempts: attempts}
	switch {
	case ctx.Err() != nil:
		final.Err, final.Category = ctx.Err(), CategoryPermanent
	case lastErr == nil:
		final.Err, final.Category = err, Categorize(err)
	default:
		final.Category = Categorize(lastErr)
		final.GaveUp = isRetryable(lastErr)
	}
	result.Err = final
	return result
}

// Exhausted reports whether err is a retryable failure that ran out of
// attempts.
func Exhausted(err error) bool {
	var ce *CategorizedError
	return errors.As(err, &ce) && ce.GaveUp
}

func newBackOff(cfg RetryConfig) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialBackoff
	b.MaxInterval = cfg.MaxBackoff
	b.RandomizationFactor = cfg.Jitter
	if cfg.BackoffFactor > 0 {
		b.Multiplier = cfg.BackoffFactor
	}
	if b.InitialInterval <= 0 {
		b.InitialInterval = time.Millisecond
	}
	if b.MaxInterval < b.InitialInterval {
		b.MaxInterval = b.InitialInterval
	}
	b.Reset()
	return b
}

// RetryOption adjusts a RetryConfig.
type RetryOption func(*RetryConfig)

// WithMaxAttempts sets the attempt limit, counting the first try.
func WithMaxAttempts(n int) RetryOption {
	return func(cfg *RetryConfig) { cfg.MaxAttempts = n }
}

// WithInitialBackoff sets the first wait.
func WithInitialBackoff(d time.Duration) RetryOption {
	return func(cfg *RetryConfig) { cfg.InitialBackoff = d }
}

// WithMaxBackoff caps the wait.
func WithMaxBackoff(d time.Duration) RetryOption {
	return func(cfg *RetryConfig) { cfg.MaxBackoff = d }
}

// WithAttemptTimeout bounds each attempt.
func WithAttemptTimeout(d time.Duration) RetryOption {
	return func(cfg *RetryConfig) { cfg.AttemptTimeout = d }
}

// WithRetryableFunc replaces the retryability check.
func WithRetryableFunc(fn func(error) bool) RetryOption {
	return func(cfg *RetryConfig) { cfg.RetryableFunc = fn }
}

// WithOnRetry sets the hook run before each wait.
func WithOnRetry(fn func(attempt int, err error, wait time.Duration)) RetryOption {
	return func(cfg *RetryConfig) { cfg.OnRetry = fn }
}

// NewRetryConfig applies opts to DefaultRetry.
func NewRetryConfig(opts ...RetryOption) RetryConfig {
	cfg := DefaultRetry
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
