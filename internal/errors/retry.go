package errors

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"smmswarm/internal/logging"
)

// RetryConfig configures retry behavior
type RetryConfig struct {
	MaxAttempts  int           // retries after the first call
	BaseDelay    time.Duration // delay before retry n is BaseDelay * 2^n
	MaxDelay     time.Duration // 0 means uncapped
	JitterFactor float64       // ±fraction of the delay, 0 disables jitter
}

// DefaultRetryConfig returns the gateway defaults: two retries, 0.8s base.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 2,
		BaseDelay:   800 * time.Millisecond,
		MaxDelay:    30 * time.Second,
	}
}

// RetryWithResult runs fn until it succeeds, returns a non-transient error,
// or the attempts are exhausted.
func RetryWithResult[T any](ctx context.Context, config RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	return RetryWithResultAndLog(ctx, config, fn, nil)
}

// RetryWithResultAndLog is RetryWithResult with an explicit logger.
func RetryWithResultAndLog[T any](ctx context.Context, config RetryConfig, fn func(ctx context.Context) (T, error), logger logging.Logger) (T, error) {
	logger = logging.OrNop(logger)

	var lastErr error
	var zeroValue T

	for attempt := 0; attempt <= config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return zeroValue, fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		result, err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				logger.Info("Retry succeeded after %d attempts", attempt+1)
			}
			return result, nil
		}

		lastErr = err
		if IsPermanent(err) {
			return zeroValue, err
		}
		if attempt == config.MaxAttempts {
			logger.Warn("Max retries (%d) exhausted: %v", config.MaxAttempts+1, err)
			break
		}

		delay := calculateBackoff(attempt, config)
		logger.Debug("Attempt %d failed (%v), waiting %v", attempt+1, err, delay)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zeroValue, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		}
	}

	return zeroValue, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// calculateBackoff returns BaseDelay * 2^attempt, capped and optionally jittered.
func calculateBackoff(attempt int, config RetryConfig) time.Duration {
	delay := time.Duration(float64(config.BaseDelay) * math.Pow(2, float64(attempt)))
	if config.MaxDelay > 0 && delay > config.MaxDelay {
		delay = config.MaxDelay
	}

	if config.JitterFactor > 0 {
		jitter := float64(delay) * config.JitterFactor
		delay = time.Duration(float64(delay) + (rand.Float64()*2-1)*jitter)
		if delay < 0 {
			delay = config.BaseDelay
		}
		if config.MaxDelay > 0 && delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}
	return delay
}
