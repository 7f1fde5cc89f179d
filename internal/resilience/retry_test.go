package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmsystem/dms/internal/resilience"
)

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxRetries:      3,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := resilience.Retry(context.Background(), fastRetry(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_GivesUpAfterMaxRetries(t *testing.T) {
	calls := 0
	err := resilience.Retry(context.Background(), fastRetry(), func() error {
		calls++
		return errors.New("down")
	})

	require.Error(t, err)
	assert.Equal(t, 4, calls)
}

func TestRetry_PermanentStopsImmediately(t *testing.T) {
	errBad := errors.New("bad request")
	calls := 0
	err := resilience.Retry(context.Background(), fastRetry(), func() error {
		calls++
		return resilience.Permanent(errBad)
	})

	require.ErrorIs(t, err, errBad)
	assert.Equal(t, 1, calls)
}

func TestRetry_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := resilience.Retry(ctx, fastRetry(), func() error {
		calls++
		return errors.New("down")
	})

	require.Error(t, err)
	assert.LessOrEqual(t, calls, 1)
}
