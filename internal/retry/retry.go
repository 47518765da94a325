package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/goran-ethernal/ChainPipeline/pkg/config"
)

// Classifier decides whether an error should trigger another attempt.
type Classifier func(err error) bool

// Always retries every error.
func Always(err error) bool {
	return err != nil
}

// Backoff computes the wait before the given attempt, with ±25% jitter.
// The first attempt never waits.
func Backoff(attempt int, cfg *config.RetryConfig) time.Duration {
	if attempt <= 1 {
		return 0
	}

	backoff := float64(cfg.InitialBackoff.Duration) * math.Pow(cfg.BackoffMultiplier, float64(attempt-2))

	if backoff > float64(cfg.MaxBackoff.Duration) {
		backoff = float64(cfg.MaxBackoff.Duration)
	}

	jitterRange := backoff * 0.25
	jitter := (rand.Float64() * 2 * jitterRange) - jitterRange //nolint:gosec
	backoff += jitter

	if backoff < 0 {
		backoff = 0
	}

	return time.Duration(backoff)
}

// Do executes fn with exponential backoff retry logic.
// It respects context cancellation and deadlines. A nil cfg executes fn once.
func Do(ctx context.Context, cfg *config.RetryConfig, operation string, retryable Classifier, fn func() error) error {
	if cfg == nil {
		return fn()
	}
	if retryable == nil {
		retryable = Always
	}

	var lastErr error
	startTime := time.Now()

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context cancelled before attempt %d: %w", attempt, err)
		}

		err := fn()
		if err == nil {
			if attempt > 1 {
				retrySucceededInc(operation)
			}
			return nil
		}

		lastErr = err

		if !retryable(err) {
			return fmt.Errorf("non-retryable error on attempt %d/%d: %w", attempt, cfg.MaxAttempts, err)
		}

		if attempt >= cfg.MaxAttempts {
			break
		}

		backoffDuration := Backoff(attempt+1, cfg)

		if backoffDuration > 0 {
			timer := time.NewTimer(backoffDuration)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("context cancelled during backoff (attempt %d/%d): %w",
					attempt, cfg.MaxAttempts, ctx.Err())
			}
		}

		retryInc(operation)
	}

	retryExhaustedInc(operation)

	return fmt.Errorf("all %d attempts failed after %v (last error: %w)",
		cfg.MaxAttempts, time.Since(startTime), lastErr)
}
