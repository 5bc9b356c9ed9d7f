// internal/store/postgres/retry.go
package postgres

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/lib/pq"

	"libraryapi/internal/apperror"
)

const (
	defaultMaxAttempts  = 6
	defaultBaseDelay    = 10 * time.Millisecond
	defaultJitterFactor = 0.3
)

type retryConfig struct {
	maxAttempts  int
	baseDelay    time.Duration
	jitterFactor float64
}

// retryWithBackoff runs fn until it succeeds, fails with a non-retryable
// error, or maxAttempts is reached. Delays double from baseDelay with jitter.
func retryWithBackoff(ctx context.Context, config retryConfig, onRetry func(attempt int, err error), fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt < config.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := config.baseDelay * time.Duration(1<<(attempt-1))
			jitter := rand.Float64() * float64(delay) * config.jitterFactor //nolint:gosec // jitter only
			select {
			case <-time.After(delay + time.Duration(jitter)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			return lastErr
		}
		if onRetry != nil && attempt < config.maxAttempts-1 {
			onRetry(attempt+1, lastErr)
		}
	}

	return lastErr
}

// isRetryable reports whether a fresh transaction could succeed. That holds
// for serialization failures, deadlocks, stale versions and a lost race for
// a copy's open loan. Other unique violations are permanent.
func isRetryable(err error) bool {
	if isSerializationFailure(err) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == codeUniqueViolation && pqErr.Constraint == openLoanConstraint
	}
	return errors.Is(err, apperror.ErrConflict)
}

func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == codeSerializationFailure || pqErr.Code == codeDeadlockDetected
}
