// Package retry runs an operation again after transient failures, backing
// off quadratically between attempts.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Config controls how Do repeats a failing operation.
type Config struct {
	// MaxAttempts caps the total number of calls, the first one included.
	// Values below 1 are treated as 1.
	MaxAttempts int
	// BaseDelay scales the backoff. The wait after attempt n is
	// BaseDelay * n², so 1s yields waits of 1s, 4s, 9s, ...
	BaseDelay time.Duration
	// OnRetry, if set, runs after each failed attempt before the wait.
	// The attempt number is 1-indexed.
	OnRetry func(attempt int, err error)
	// RetryIf, if set, classifies errors: returning false stops the loop
	// and surfaces the error immediately. Nil means retry everything.
	RetryIf func(err error) bool
}

// Do invokes fn until it succeeds, the attempts run out, RetryIf rejects
// the error, or ctx is cancelled mid-wait. It returns nil on success and
// otherwise the error from the final attempt.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for n := 1; ; n++ {
		if err = fn(); err == nil {
			return nil
		}
		if cfg.RetryIf != nil && !cfg.RetryIf(err) {
			return err
		}
		if n == attempts {
			return err
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(n, err)
		}

		wait := cfg.BaseDelay * time.Duration(n*n)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled after attempt %d: %w", n, ctx.Err())
		}
	}
}
