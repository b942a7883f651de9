package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	coreerrors "github.com/agilecore/orchestrator-core/internal/errors"
)

// RetryConfig matches spec.md §4.C1: at most 3 attempts, exponential
// backoff base 1s capped at 10s, only on transient errors.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, InitialDelay: time.Second, MaxDelay: 10 * time.Second}
}

// Retry runs fn, retrying only on errors classified retryable by
// coreerrors.IsRetryable, up to cfg.MaxAttempts. The final outcome (not
// individual retries) is what the caller should feed to a Breaker.
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialDelay
	b.MaxInterval = cfg.MaxDelay

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := fn(ctx)
		if err == nil {
			return struct{}{}, nil
		}
		if !coreerrors.IsRetryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(cfg.MaxAttempts)))

	return err
}
