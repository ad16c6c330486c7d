package maintainer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryConfig() RetryConfig {
	return RetryConfig{BaseDelay: time.Millisecond, Multiplier: 2, CapDelay: 5 * time.Millisecond, MaxRetries: 3}
}

func TestWithRetrySucceedsWithoutRetrying(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), fastRetryConfig(), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetryRecoversAfterTransientFailures(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), fastRetryConfig(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetryExhaustsAfterMaxRetries(t *testing.T) {
	calls := 0
	cfg := fastRetryConfig()
	err := withRetry(context.Background(), cfg, func() error {
		calls++
		return errors.New("permanent")
	})
	assert.Error(t, err)
	assert.Equal(t, cfg.MaxRetries+1, calls, "fn is called once plus MaxRetries retries")
}

func TestWithRetryRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := withRetry(ctx, RetryConfig{BaseDelay: 50 * time.Millisecond, Multiplier: 2, CapDelay: time.Second, MaxRetries: 10}, func() error {
		calls++
		if calls == 1 {
			cancel()
		}
		return errors.New("fail")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
