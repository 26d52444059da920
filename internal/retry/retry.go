// Package retry holds the single retry policy used for ledger and record
// store calls.
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// Policy bounds how an operation is re-attempted. Backoff receives the
// 1-based number of the attempt that just failed.
type Policy struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
	Retriable   func(err error) bool
}

// Fixed waits d between attempts.
func Fixed(d time.Duration) func(int) time.Duration {
	return func(int) time.Duration { return d }
}

// Linear waits base*attempt.
func Linear(base time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration { return base * time.Duration(attempt) }
}

// Exponential grows from initial by multiplier up to max, spread by +/- jitter.
func Exponential(initial time.Duration, multiplier float64, max time.Duration, jitter float64) func(int) time.Duration {
	return func(attempt int) time.Duration {
		backoff := float64(initial)
		for i := 1; i < attempt; i++ {
			backoff *= multiplier
			if time.Duration(backoff) > max {
				backoff = float64(max)
				break
			}
		}
		if jitter > 0 {
			backoff += backoff * jitter * (rand.Float64()*2 - 1)
		}
		return time.Duration(backoff)
	}
}

// Always retries every error.
func Always(error) bool { return true }

// Never disables retry.
func Never(error) bool { return false }

func (p Policy) attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

// Do runs fn until it succeeds, returns a non-retriable error, or the budget
// is spent. The last error is wrapped with the attempt count.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	max := p.attempts()
	var lastErr error
	for attempt := 1; attempt <= max; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt == max {
			break
		}
		if p.Retriable != nil && !p.Retriable(err) {
			return err
		}
		wait := time.Duration(0)
		if p.Backoff != nil {
			wait = p.Backoff(attempt)
		}
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	if max == 1 {
		return lastErr
	}
	return fmt.Errorf("after %d attempts: %w", max, lastErr)
}
