// Package retry provides context-aware retries with exponential backoff
// for transient transport failures.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Config configures retry behavior.
type Config struct {
	// MaxAttempts is the maximum number of attempts, including the first.
	MaxAttempts int
	// InitialDelay is the delay after the first failure.
	InitialDelay time.Duration
	// MaxDelay caps the delay between attempts.
	MaxDelay time.Duration
	// Factor is the multiplier for exponential backoff.
	Factor float64
	// Jitter randomizes each delay to avoid thundering herds.
	Jitter bool
}

// DefaultConfig returns the retry configuration used for bot transport
// calls.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Factor:       2.0,
		Jitter:       true,
	}
}

// PermanentError wraps an error that must not be retried, such as an
// auth rejection that will fail identically on every attempt.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Do executes op until it succeeds, attempts are exhausted, the error
// is permanent, or the context is cancelled. The last error is
// returned on failure, unwrapped if it was permanent.
func Do(ctx context.Context, config Config, op func() error) error {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 100 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 5 * time.Second
	}
	if config.Factor <= 0 {
		config.Factor = 2.0
	}

	delay := config.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if lastErr = op(); lastErr == nil {
			return nil
		}

		var perm *PermanentError
		if errors.As(lastErr, &perm) {
			return perm.Err
		}

		if attempt == config.MaxAttempts {
			break
		}

		sleep := delay
		if config.Jitter {
			// Random in [delay/2, delay).
			sleep = delay/2 + time.Duration(rand.Int63n(int64(delay/2)+1))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}

		delay = time.Duration(float64(delay) * config.Factor)
		if delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}

	return lastErr
}
