// Package retry provides the exponential backoff helper shared by extraction
// strategies and the job queue.
package retry

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"
)

// DefaultBase is the backoff unit used when none is configured
const DefaultBase = time.Second

// maxShift caps the exponent so the backoff cannot overflow
const maxShift = 16

// Backoff returns 2^attempt * base for a zero-based attempt index
func Backoff(attempt int, base time.Duration) time.Duration {
	if base <= 0 {
		base = DefaultBase
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt > maxShift {
		attempt = maxShift
	}
	return base * time.Duration(1<<uint(attempt))
}

// Policy bounds a retry loop
type Policy struct {
	MaxAttempts int
	Base        time.Duration
}

// Do runs fn up to MaxAttempts times, sleeping Backoff(i, Base) between failures.
// The last error is returned when every attempt fails; context cancellation stops early.
func (p Policy) Do(ctx context.Context, logger arbor.ILogger, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if i == attempts-1 {
			break
		}

		wait := Backoff(i, p.Base)
		if logger != nil {
			logger.Debug().
				Int("attempt", i+1).
				Int("max_attempts", attempts).
				Err(lastErr).
				Dur("backoff", wait).
				Msg("Retrying after backoff")
		}

		if err := Sleep(ctx, wait); err != nil {
			return err
		}
	}

	if logger != nil {
		logger.Warn().
			Int("max_attempts", attempts).
			Err(lastErr).
			Msg("All retry attempts exhausted")
	}
	return lastErr
}

// Sleep waits for d or until ctx is done
func Sleep(ctx context.Context, d time.Duration) error {
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
