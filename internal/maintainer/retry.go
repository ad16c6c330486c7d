package maintainer

import (
	"context"
	"fmt"
	"time"
)

// RetryConfig bounds the exponential backoff a Maintainer wraps around
// its staging, script submission, status-poll and scancel calls, so a
// transient disconnect doesn't fail a job outright.
type RetryConfig struct {
	BaseDelay  time.Duration
	Multiplier float64
	CapDelay   time.Duration
	MaxRetries int
}

// DefaultRetryConfig is a conservative default: 1s base, x2, capped at
// 30s, 5 retries.
var DefaultRetryConfig = RetryConfig{
	BaseDelay:  time.Second,
	Multiplier: 2,
	CapDelay:   30 * time.Second,
	MaxRetries: 5,
}

// withRetry runs fn, retrying on error per cfg until it succeeds, ctx is
// cancelled, or retries are exhausted. The last error is wrapped and
// returned on exhaustion.
func withRetry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	delay := cfg.BaseDelay
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt == cfg.MaxRetries {
			break
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.CapDelay {
			delay = cfg.CapDelay
		}
	}
	return fmt.Errorf("maintainer: retries exhausted after %d attempts: %w", cfg.MaxRetries+1, lastErr)
}
