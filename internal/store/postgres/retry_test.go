package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libraryapi/internal/apperror"
)

func fastRetry(attempts int) retryConfig {
	return retryConfig{maxAttempts: attempts, baseDelay: time.Millisecond, jitterFactor: 0}
}

func TestRetryStopsOnSuccess(t *testing.T) {
	calls := 0
	var retried []int
	err := retryWithBackoff(context.Background(), fastRetry(5), func(attempt int, _ error) {
		retried = append(retried, attempt)
	}, func(context.Context) error {
		calls++
		if calls < 3 {
			return &pq.Error{Code: codeSerializationFailure}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestRetryFailsFastOnPermanentError(t *testing.T) {
	calls := 0
	permanent := apperror.InvalidOperation("copy is not available")
	err := retryWithBackoff(context.Background(), fastRetry(5), nil, func(context.Context) error {
		calls++
		return permanent
	})

	assert.ErrorIs(t, err, apperror.ErrInvalidOperation)
	assert.Equal(t, 1, calls)
}

func TestRetryGivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	err := retryWithBackoff(context.Background(), fastRetry(4), nil, func(context.Context) error {
		calls++
		return fmt.Errorf("commit: %w", &pq.Error{Code: codeDeadlockDetected})
	})

	assert.True(t, isSerializationFailure(err))
	assert.Equal(t, 4, calls)
}

func TestRetryHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := retryWithBackoff(ctx, retryConfig{maxAttempts: 3, baseDelay: time.Hour}, nil, func(context.Context) error {
		calls++
		cancel()
		return apperror.Conflict(nil, "stale")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"serialization failure", &pq.Error{Code: codeSerializationFailure}, true},
		{"deadlock", fmt.Errorf("wrapped: %w", &pq.Error{Code: codeDeadlockDetected}), true},
		{"stale version", apperror.Conflict(nil, "book copy 1 was modified concurrently"), true},
		{"open loan race", translate(&pq.Error{Code: codeUniqueViolation, Constraint: openLoanConstraint}, "loan"), true},
		{"duplicate id number", translate(&pq.Error{Code: codeUniqueViolation, Constraint: "members_id_number_key"}, "member"), false},
		{"not found", apperror.NotFound("loan with ID 1 not found"), false},
		{"plain error", errors.New("connection reset"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryable(tt.err))
		})
	}
}

func TestTranslate(t *testing.T) {
	assert.NoError(t, translate(nil, "loan"))

	err := translate(sql.ErrNoRows, "loan with ID 7")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	assert.Equal(t, "loan with ID 7 not found", apperror.Message(err, ""))

	err = translate(&pq.Error{Code: codeUniqueViolation}, "member with ID number M-1")
	assert.ErrorIs(t, err, apperror.ErrConflict)

	err = translate(&pq.Error{Code: codeForeignKeyViolation}, "loan transaction")
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	err = translate(&pq.Error{Code: codeCheckViolation}, "loan")
	assert.ErrorIs(t, err, apperror.ErrValidation)

	raw := errors.New("broken pipe")
	err = translate(raw, "penalty")
	assert.ErrorIs(t, err, raw)
	assert.Equal(t, apperror.KindInternal, apperror.KindOf(err))
}
