package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExponentialBackoff_CapsAtMaxInterval(t *testing.T) {
	backoff := ExponentialBackoff(BackoffConfig{
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     25 * time.Millisecond,
		Multiplier:      2.0,
	})

	assert.Equal(t, 10*time.Millisecond, backoff(1))
	assert.Equal(t, 20*time.Millisecond, backoff(2))
	assert.Equal(t, 25*time.Millisecond, backoff(3))
}

func TestExponentialBackoff_JitterStaysInRange(t *testing.T) {
	backoff := ExponentialBackoff(BackoffConfig{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     time.Second,
		Multiplier:      2.0,
		Jitter:          true,
	})

	for i := 0; i < 20; i++ {
		d := backoff(1)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.Less(t, d, 100*time.Millisecond)
	}
}

func TestFixedConfig(t *testing.T) {
	cfg := FixedConfig(time.Second, 3)
	assert.Equal(t, 2, cfg.MaxRetries)

	backoff := ExponentialBackoff(cfg)
	assert.Equal(t, time.Second, backoff(1))
	assert.Equal(t, time.Second, backoff(5))

	assert.Equal(t, 0, FixedConfig(time.Second, 0).MaxRetries)
}

func TestWithRetryAdvanced_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := WithRetryAdvanced(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	}, FixedConfig(time.Millisecond, 5))

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetryAdvanced_ExhaustsAttempts(t *testing.T) {
	sentinel := errors.New("no reply")
	calls := 0
	err := WithRetryAdvanced(context.Background(), func() error {
		calls++
		return sentinel
	}, FixedConfig(time.Millisecond, 3))

	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestWithRetryAdvanced_StopErrorHaltsImmediately(t *testing.T) {
	fatal := errors.New("bad credentials")
	calls := 0
	err := WithRetryAdvanced(context.Background(), func() error {
		calls++
		return Stop(fatal)
	}, FixedConfig(time.Millisecond, 5))

	assert.Equal(t, fatal, err)
	assert.Equal(t, 1, calls)
	assert.True(t, IsStopError(Stop(fatal)))
	assert.False(t, IsStopError(fatal))
}

func TestWithRetry_ContextCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := WithRetry(ctx, func() error {
		calls++
		cancel()
		return errors.New("fail")
	}, FixedConfig(time.Hour, 2))

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
