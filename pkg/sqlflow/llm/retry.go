package llm

import (
	"context"
	"log/slog"
	"time"

	"github.com/randalmurphal/sqlflow/pkg/sqlflow"
	sferrors "github.com/randalmurphal/sqlflow/pkg/sqlflow/errors"
)

// RetryClient decorates a Client with bounded exponential backoff on
// transient failures. When retries run out the failure is surfaced as a
// *sqlflow.TransientLLMError.
type RetryClient struct {
	inner   Client
	cfg     sferrors.RetryConfig
	logger  *slog.Logger
	onRetry func(attempt int)
}

// RetryOption configures a RetryClient.
type RetryOption func(*RetryClient)

// WithRetryLogger sets the logger used to report retries.
func WithRetryLogger(logger *slog.Logger) RetryOption {
	return func(r *RetryClient) { r.logger = logger }
}

// WithRetryHook registers a callback run for every retry, typically a
// metrics recorder.
func WithRetryHook(fn func(attempt int)) RetryOption {
	return func(r *RetryClient) { r.onRetry = fn }
}

// NewRetryClient wraps inner with the given retry configuration.
func NewRetryClient(inner Client, cfg sferrors.RetryConfig, opts ...RetryOption) *RetryClient {
	r := &RetryClient{
		inner:  inner,
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Invoke implements Client.
func (r *RetryClient) Invoke(ctx context.Context, req Request) (*Response, error) {
	cfg := r.cfg
	cfg.OnRetry = func(attempt int, err error, wait time.Duration) {
		r.logger.Warn("llm retry",
			"attempt", attempt,
			"max_attempts", r.cfg.MaxAttempts,
			"wait", wait,
			"error", err,
		)
		if r.onRetry != nil {
			r.onRetry(attempt)
		}
	}

	res := sferrors.WithRetryContext(ctx, cfg, func(ctx context.Context) (*Response, error) {
		return r.inner.Invoke(ctx, req)
	})
	if res.Err == nil {
		return res.Value, nil
	}
	if sferrors.Exhausted(res.Err) {
		return nil, &sqlflow.TransientLLMError{Op: "invoke", Err: res.Err}
	}
	return nil, res.Err
}
