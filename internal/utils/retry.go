package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

)

// RetryPolicy is the single retry implementation used by every network call
// site: version index fetches, HEAD size checks and artifact downloads.
type RetryPolicy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	MaxRetryAfter time.Duration
	Sleep         func(ctx context.Context, d time.Duration) error
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   3,
		BaseDelay:     600 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		MaxRetryAfter: 30 * time.Second,
	}
}

// Delay returns the wait before attempt+1. A server supplied Retry-After wins
// over the exponential schedule but is capped at MaxRetryAfter.
func (p RetryPolicy) Delay(attempt int, err error) time.Duration {
	var te *TransientNetworkError
	if errors.As(err, &te) && te.RetryAfter > 0 {
		if p.MaxRetryAfter > 0 && te.RetryAfter > p.MaxRetryAfter {
			return p.MaxRetryAfter
		}
		return te.RetryAfter
	}
	d := p.BaseDelay << max(attempt-1, 0)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Do runs fn until it succeeds, fails permanently, the attempts run out or
// ctx is cancelled. Only TransientNetworkError results are retried.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func(attempt int) error) error {
	attempts := max(p.MaxAttempts, 1)
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return Cancelled(ctx)
		}
		err := fn(attempt)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return Cancelled(ctx)
		}
		if !IsTransient(err) {
			return err
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		delay := p.Delay(attempt, err)
		logger := GetLogger("retry")
		logger.Warn().Str("op", op).Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("Retrying after transient failure")
		if err := sleep(ctx, delay); err != nil {
			return Cancelled(ctx)
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, attempts, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
