package providers

import (
	"context"
	"time"

	"github.com/codeframe-dev/codeframe/internal/retry"
)

// BaseProvider holds shared retry configuration for LLM providers.
type BaseProvider struct {
	name       string
	maxRetries int
	retryDelay time.Duration
}

// NewBaseProvider creates a base provider with sane defaults.
func NewBaseProvider(name string, maxRetries int, retryDelay time.Duration) BaseProvider {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	return BaseProvider{
		name:       name,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
	}
}

// Retry executes op, waiting a fixed retryDelay between attempts while
// isRetryable returns true. A
// non-retryable error is reported to retry.Do as permanent so it returns
// immediately instead of exhausting the remaining attempts.
func (b *BaseProvider) Retry(ctx context.Context, isRetryable func(error) bool, op func() error) error {
	if op == nil {
		return nil
	}
	cfg := retry.Config{
		MaxAttempts:  b.maxRetries,
		InitialDelay: b.retryDelay,
		MaxDelay:     b.retryDelay * time.Duration(b.maxRetries),
		Factor:       1.0,
		Jitter:       false,
	}
	result := retry.Do(ctx, cfg, func() error {
		err := op()
		if err != nil && isRetryable != nil && !isRetryable(err) {
			return retry.Permanent(err)
		}
		return err
	})
	return result.Err
}
