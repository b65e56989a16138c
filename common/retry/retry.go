// Package retry provides bounded exponential-backoff retry logic for remote
// calls. The engine performs no I/O itself: it only sequences calls to the
// supplied operation and sleeps between attempts.
//
// Usage:
//
//	err := retry.Do(ctx, retry.Config{MaxRetries: 3}, func() error {
//	    return client.Call(ctx)
//	})
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Config controls the retry behaviour.
type Config struct {
	// MaxRetries is the number of retries after the first attempt, so an
	// operation failing every time is invoked MaxRetries+1 times.
	// Negative values are treated as 0 (no retries).
	MaxRetries int
	// BaseDelay is the wait before the first retry. Subsequent delays are
	// multiplied by Multiplier up to MaxDelay.
	BaseDelay time.Duration
	// Multiplier scales the delay after every failed attempt. Values below
	// 1 are replaced by the default.
	Multiplier float64
	// MaxDelay caps the per-attempt wait.
	MaxDelay time.Duration
	// ShouldRetry is an optional predicate that classifies errors as
	// retryable. When nil, all non-nil errors are retried.
	ShouldRetry func(err error) bool
}

// DefaultConfig provides the default schedule: 3 retries at 1s, 2s, 4s,
// capped at 10s.
var DefaultConfig = Config{
	MaxRetries: 3,
	BaseDelay:  time.Second,
	Multiplier: 2,
	MaxDelay:   10 * time.Second,
}

// Do calls fn until it succeeds, fails terminally, or the retry budget is
// exhausted. It stops early when ctx is cancelled. The error from the last
// attempt is returned.
//
// The backoff delay before retry n (zero-based) is
// min(BaseDelay × Multiplier^n, MaxDelay), non-decreasing by construction.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultConfig.BaseDelay
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = DefaultConfig.Multiplier
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultConfig.MaxDelay
	}
	shouldRetry := cfg.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = func(err error) bool { return true }
	}

	delay := cfg.BaseDelay
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.Join(lastErr, err)
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if !shouldRetry(lastErr) {
			return lastErr
		}

		if attempt < cfg.MaxRetries {
			slog.Debug("retry: attempt failed, backing off",
				"attempt", attempt+1, "max", cfg.MaxRetries+1,
				"err", lastErr, "delay", delay)

			select {
			case <-ctx.Done():
				// An aborted call must not leave the backoff timer
				// running past the abort.
				return errors.Join(lastErr, ctx.Err())
			case <-time.After(delay):
			}

			delay = time.Duration(float64(delay) * cfg.Multiplier)
			if delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		}
	}

	return lastErr
}
