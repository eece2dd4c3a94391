package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	appErr "github.com/poleval/poleval/internal/pkg/errors"
)

// Client wraps a provider with the retry policy: transient failures
// (throttling, flaky network) back off exponentially up to the attempt
// ceiling, fatal ones (auth, unknown model, bad request) surface at once.
type Client struct {
	provider IProvider
	retry    RetryConfig
}

func NewClient(provider IProvider, retry RetryConfig) *Client {
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryConfig()
	}
	return &Client{provider: provider, retry: retry}
}

func (c *Client) Invoke(ctx context.Context, req *Request) (*Completion, error) {
	logger := logutil.GetLogger(ctx).With(
		zap.String("provider", c.provider.Name()),
		zap.String("model", req.ModelID),
		zap.Int("max_tokens", req.MaxTokens),
	)

	var lastErr error
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		completion, err := c.provider.Invoke(ctx, req)
		if err == nil {
			logger.Debug("model call succeeded", zap.Int("attempt", attempt), zap.String("stop_reason", completion.StopReason))
			return completion, nil
		}
		if appErr.IsFatal(err) || !appErr.IsTransient(err) {
			return nil, err
		}
		lastErr = err
		if attempt == c.retry.MaxAttempts {
			break
		}
		backoff := c.retry.backoff(attempt)
		logger.Warn("model call failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.retry.MaxAttempts),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return nil, fmt.Errorf("model call failed after %d attempts: %w", c.retry.MaxAttempts, lastErr)
}
