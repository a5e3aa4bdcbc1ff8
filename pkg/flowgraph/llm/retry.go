package llm

import (
	"context"
	"log/slog"
	"time"

	fgerrors "github.com/randalmurphal/askdata/pkg/flowgraph/errors"
)

// RetryClient retries transient failures of the wrapped client with
// exponential backoff. Permanent failures are returned immediately.
type RetryClient struct {
	inner  Client
	cfg    fgerrors.RetryConfig
	logger *slog.Logger
}

// NewRetryClient wraps inner. A nil logger disables retry logging.
func NewRetryClient(inner Client, cfg fgerrors.RetryConfig, logger *slog.Logger) *RetryClient {
	return &RetryClient{inner: inner, cfg: cfg, logger: logger}
}

// Complete implements Client.
func (c *RetryClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	cfg := c.cfg
	if c.logger != nil {
		cfg.OnRetry = func(attempt int, err error, backoff time.Duration) {
			c.logger.Warn("llm call failed, retrying",
				slog.Int("attempt", attempt),
				slog.Duration("backoff", backoff),
				slog.String("error", err.Error()),
			)
		}
	}

	result := fgerrors.WithRetryContext(ctx, cfg, func(ctx context.Context) (*CompletionResponse, error) {
		return c.inner.Complete(ctx, req)
	})
	if result.Err != nil {
		return nil, result.Err
	}
	return result.Value, nil
}
