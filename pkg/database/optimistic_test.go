package database

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/errors"
)

func TestWithOptimisticRetry_SucceedsFirstTry(t *testing.T) {
	calls := 0
	err := WithOptimisticRetry(context.Background(), RetryPolicy{MaxAttempts: 3}, "test", func(context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithOptimisticRetry_RetriesConflicts(t *testing.T) {
	calls := 0
	err := WithOptimisticRetry(context.Background(), RetryPolicy{MaxAttempts: 5, Backoff: time.Millisecond}, "test", func(context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("update: %w", apperrors.ErrVersionConflict)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithOptimisticRetry_Exhausted(t *testing.T) {
	calls := 0
	err := WithOptimisticRetry(context.Background(), RetryPolicy{MaxAttempts: 4}, "reserve stock", func(context.Context) error {
		calls++
		return apperrors.ErrVersionConflict
	})

	require.Error(t, err)
	assert.Equal(t, 4, calls)
	assert.True(t, errors.Is(err, apperrors.ErrConcurrencyExhausted))
	assert.Equal(t, apperrors.ClassTransient, apperrors.Classify(err))
	assert.Contains(t, err.Error(), "reserve stock")
}

func TestWithOptimisticRetry_OtherErrorsReturnImmediately(t *testing.T) {
	calls := 0
	err := WithOptimisticRetry(context.Background(), RetryPolicy{MaxAttempts: 5}, "test", func(context.Context) error {
		calls++
		return apperrors.InsufficientStock("p1", 5, 1)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, errors.Is(err, apperrors.ErrInsufficientStock))
}

func TestWithOptimisticRetry_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	err := WithOptimisticRetry(context.Background(), RetryPolicy{}, "test", func(context.Context) error {
		calls++
		return apperrors.ErrVersionConflict
	})

	assert.True(t, errors.Is(err, apperrors.ErrConcurrencyExhausted))
	assert.Equal(t, 1, calls)
}

func TestWithOptimisticRetry_ContextCanceledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := WithOptimisticRetry(ctx, RetryPolicy{MaxAttempts: 10, Backoff: time.Hour}, "test", func(context.Context) error {
		calls++
		cancel()
		return apperrors.ErrVersionConflict
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
