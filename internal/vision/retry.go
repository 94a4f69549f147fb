package vision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
)

// RetryPolicy bounds how a call is retried: attempt budget, backoff schedule and which errors count
// as retryable.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	// Jitter adds up to half of the computed backoff.
	Jitter bool
	// Retryable decides whether err is worth another attempt. Nil means IsTransient.
	Retryable func(err error) bool
	// Sleep waits between attempts. Nil means a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy mirrors the provider guidance: four attempts, doubling from two seconds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    4,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2,
		Jitter:         true,
	}
}

// Backoff returns the wait before attempt n+1, for attempt n (0-indexed).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	base := p.InitialBackoff
	if base <= 0 {
		base = time.Second
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(base)
	for i := 0; i < attempt; i++ {
		d *= mult
		if p.MaxBackoff > 0 && d >= float64(p.MaxBackoff) {
			d = float64(p.MaxBackoff)
			break
		}
	}
	backoff := time.Duration(d)
	if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
		backoff = p.MaxBackoff
	}
	if p.Jitter && backoff > 1 {
		backoff += time.Duration(rand.Int64N(int64(backoff) / 2))
	}
	return backoff
}

// ErrAttemptsExhausted wraps the last error once the attempt budget is spent.
var ErrAttemptsExhausted = errors.New("retry budget exhausted")

// Do runs fn until it succeeds, returns a non-retryable error, the budget runs out or ctx ends.
// It returns the number of attempts made.
func (p RetryPolicy) Do(ctx context.Context, logger *slog.Logger, fn func(ctx context.Context) error) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransient
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return attempt + 1, nil
		}
		if !retryable(lastErr) {
			return attempt + 1, lastErr
		}
		if attempt == maxAttempts-1 {
			break
		}
		backoff := p.Backoff(attempt)
		logger.Warn("Transient provider error, will retry.",
			"attempt", attempt+1,
			"maxAttempts", maxAttempts,
			"backoff", backoff.String(),
			"error", lastErr,
		)
		if err := sleep(ctx, backoff); err != nil {
			return attempt + 1, fmt.Errorf("retry aborted: %w", err)
		}
	}
	return maxAttempts, fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, maxAttempts, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
