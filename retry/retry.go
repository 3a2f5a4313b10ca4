// Package retry retries operations against storage backends and event
// transports with exponential backoff. Store sentinels are classified out of
// the box: unavailable backends and persistence failures are retried,
// missing mailboxes, unsupported operations and invalid input are not.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/rbaliyan/mailstore/store"
)

// Config configures retry behavior. Zero fields fall back to DefaultConfig
// values, except MaxRetries where 0 means a single attempt.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	// Jitter is the fraction of the backoff randomized in both directions,
	// clamped to [0, 1].
	Jitter float64
	// IsRetryable classifies errors; nil means DefaultIsRetryable.
	IsRetryable func(error) bool
}

// DefaultConfig returns three retries starting at 100ms, doubling up to 30s
// with 10% jitter.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		Jitter:         0.1,
		IsRetryable:    DefaultIsRetryable,
	}
}

var (
	// ErrNotRetryable marks an error that must not be retried. Wrap it with
	// %w to stop Do early.
	ErrNotRetryable = errors.New("retry: error is not retryable")

	// ErrMaxRetries is reported when every attempt failed.
	ErrMaxRetries = errors.New("retry: max retries exceeded")

	// ErrContextCanceled is reported when ctx ended between attempts.
	ErrContextCanceled = errors.New("retry: context canceled")
)

// RetryableFunc is an operation Do can repeat.
type RetryableFunc func(ctx context.Context) error

// Do runs fn until it succeeds, fails permanently, runs out of attempts or
// ctx ends. Failures are reported as *RetryError.
func Do(ctx context.Context, cfg Config, fn RetryableFunc) error {
	cfg = normalize(cfg)

	var last error
	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			if last == nil {
				return err
			}
			return &RetryError{Cause: last, Attempts: attempts, Err: ErrContextCanceled}
		}
		last = fn(ctx)
		attempts++
		switch {
		case last == nil:
			return nil
		case !cfg.IsRetryable(last):
			return &RetryError{Cause: last, Attempts: attempts, Err: ErrNotRetryable}
		case attempts > cfg.MaxRetries:
			return &RetryError{Cause: last, Attempts: attempts, Err: ErrMaxRetries}
		}

		timer := time.NewTimer(backoff(cfg, attempts-1))
		select {
		case <-ctx.Done():
			timer.Stop()
			return &RetryError{Cause: last, Attempts: attempts, Err: ErrContextCanceled}
		case <-timer.C:
		}
	}
}

// RetryError describes a Do call that gave up.
type RetryError struct {
	// Cause is the error of the last attempt.
	Cause    error
	Attempts int
	// Err is ErrMaxRetries, ErrNotRetryable or ErrContextCanceled.
	Err error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("retry failed after %d attempts (%s): %s", e.Attempts, e.Err, e.Cause)
}

func (e *RetryError) Unwrap() error {
	return e.Cause
}

func (e *RetryError) Is(target error) bool {
	return errors.Is(e.Err, target) || errors.Is(e.Cause, target)
}

// backoff returns the delay before retry number attempt (0-based).
func backoff(cfg Config, attempt int) time.Duration {
	d := min(float64(cfg.InitialBackoff)*math.Pow(cfg.Multiplier, float64(attempt)), float64(cfg.MaxBackoff))
	if cfg.Jitter > 0 {
		spread := d * cfg.Jitter
		d += (rand.Float64()*2 - 1) * spread
	}
	return time.Duration(d)
}

func normalize(cfg Config) Config {
	def := DefaultConfig()
	cfg.MaxRetries = max(cfg.MaxRetries, 0)
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = def.Multiplier
	}
	cfg.Jitter = min(max(cfg.Jitter, 0), 1)
	if cfg.IsRetryable == nil {
		cfg.IsRetryable = DefaultIsRetryable
	}
	return cfg
}

// permanent lists store errors that no retry can fix.
var permanent = []error{
	ErrNotRetryable,
	context.Canceled,
	context.DeadlineExceeded,
	store.ErrMailboxNotFound,
	store.ErrMailboxExists,
	store.ErrMessageNotFound,
	store.ErrNotSupported,
	store.ErrInvalidPath,
	store.ErrInvalidID,
	store.ErrConcurrentModification,
	store.ErrNotConnected,
	store.ErrAlreadyConnected,
}

// DefaultIsRetryable reports whether err is worth another attempt:
// ErrBackendUnavailable, ErrPersistence and unclassified errors are.
func DefaultIsRetryable(err error) bool {
	if err == nil {
		return false
	}
	for _, p := range permanent {
		if errors.Is(err, p) {
			return false
		}
	}
	return true
}
