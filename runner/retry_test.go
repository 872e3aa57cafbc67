package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExponentialBackoff(t *testing.T) {
	s := ExponentialBackoffStrategy{Base: 10 * time.Millisecond, Factor: 2, Max: 50 * time.Millisecond}
	assert.Equal(t, 10*time.Millisecond, s.SleepDuration(0, nil))
	assert.Equal(t, 40*time.Millisecond, s.SleepDuration(2, nil))
	assert.Equal(t, 50*time.Millisecond, s.SleepDuration(5, nil))
	assert.Equal(t, 10*time.Millisecond, s.SleepDuration(-1, nil))
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("not ready")
		}
		return nil
	}, WithMaxRetries(5))

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryReturnsLastError(t *testing.T) {
	boom := errors.New("connection refused")
	calls := 0
	err := Retry(context.Background(), func(context.Context) error {
		calls++
		return boom
	}, WithMaxRetries(2), WithName("postgres connect"))

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "postgres connect failed after 3 attempts")
	assert.Equal(t, 3, calls)
}

func TestRetryZeroRunsOnce(t *testing.T) {
	calls := 0
	_ = Retry(context.Background(), func(context.Context) error {
		calls++
		return errors.New("x")
	})
	assert.Equal(t, 1, calls)
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, func(context.Context) error {
		calls++
		cancel()
		return errors.New("down")
	}, WithMaxRetries(10), WithRetryStrategy(ExponentialBackoffStrategy{Base: time.Second, Factor: 2}))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
