package presence

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	retryAttempts     = 3
	retryInitialDelay = 250 * time.Millisecond
)

// withRetry runs op with bounded exponential backoff: three attempts with a
// doubling delay. Presence writes are best-effort telemetry, so callers log
// and move on when the final attempt fails.
func withRetry(ctx context.Context, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = retryInitialDelay
	policy.Multiplier = 2
	policy.RandomizationFactor = 0

	return backoff.Retry(op, backoff.WithContext(
		backoff.WithMaxRetries(policy, retryAttempts-1), ctx))
}
