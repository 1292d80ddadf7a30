// Package retry provides the one retry policy used around every external
// call: bounded attempts, exponential or linear backoff with jitter, and
// rate-limit hints honored when the remote service provides one.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RateLimitError wraps an error from a rate-limited call. When RetryAfter is
// set, the policy sleeps that long instead of its own backoff delay.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited (retry after %s): %v", e.RetryAfter, e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// Permanent marks an error as not worth retrying. The policy stops
// immediately and returns the wrapped error.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Policy describes how a failing operation is retried. The zero value is not
// usable; construct with Exponential or Linear.
type Policy struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64
	sleep        func(time.Duration) // test hook
}

// Exponential returns a policy with exponentially growing delays and a small
// amount of jitter.
func Exponential(maxAttempts int, baseDelay time.Duration) Policy {
	return Policy{
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.25,
	}
}

// Linear returns a policy that waits the same delay between every attempt.
func Linear(maxAttempts int, delay time.Duration) Policy {
	return Policy{
		MaxAttempts: maxAttempts,
		BaseDelay:   delay,
		MaxDelay:    delay,
		Multiplier:  1.0,
		Jitter:      0,
	}
}

// WithSleep returns a copy of the policy that uses the given sleep function.
// Tests use this to avoid real delays.
func (p Policy) WithSleep(sleep func(time.Duration)) Policy {
	p.sleep = sleep
	return p
}

// Do runs op until it succeeds, the attempts are exhausted, the error is
// permanent, or the context is done. The last error is returned on failure.
func (p Policy) Do(ctx context.Context, op func() error) error {
	if p.MaxAttempts <= 0 {
		return fmt.Errorf("retry policy has no attempts")
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.MaxInterval = p.MaxDelay
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = p.Jitter
	b.MaxElapsedTime = 0 // attempts bound the loop, not wall time
	b.Reset()

	sleep := p.sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}

		var perm *backoff.PermanentError
		if errors.As(lastErr, &perm) {
			return perm.Unwrap()
		}

		if attempt == p.MaxAttempts {
			break
		}

		delay := b.NextBackOff()
		var rl *RateLimitError
		if errors.As(lastErr, &rl) && rl.RetryAfter > 0 {
			delay = rl.RetryAfter
		}
		sleep(delay)
	}

	return fmt.Errorf("giving up after %d attempts: %w", p.MaxAttempts, lastErr)
}
