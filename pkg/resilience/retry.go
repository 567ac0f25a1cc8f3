package resilience

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/swiftride/dispatch/pkg/logger"
)

// RetryConfig defines retry behavior for transient failures
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial one)
	MaxAttempts int
	// InitialBackoff is the delay before the first retry
	InitialBackoff time.Duration
	// BackoffMultiplier is the multiplier applied to the backoff between attempts
	BackoffMultiplier float64
}

// DefaultRetryConfig returns a sensible default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    500 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

// Retry executes the operation with exponential backoff until it succeeds,
// the attempts are exhausted, or the context is cancelled.
func Retry(ctx context.Context, config RetryConfig, name string, operation Operation) (interface{}, error) {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}

	backoff := config.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		result, err := operation(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt < config.MaxAttempts {
			logger.Warn("operation failed, retrying",
				zap.String("operation", name),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(err),
			)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}

			backoff = time.Duration(float64(backoff) * config.BackoffMultiplier)
		}
	}

	return nil, lastErr
}
