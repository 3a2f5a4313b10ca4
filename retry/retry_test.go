package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rbaliyan/mailstore/store"
)

func fastConfig(retries int) Config {
	return Config{MaxRetries: retries, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func TestDefaultIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"backend unavailable", fmt.Errorf("dial: %w", store.ErrBackendUnavailable), true},
		{"persistence", store.Persistence("write", errors.New("disk full")), true},
		{"mailbox not found", store.ErrMailboxNotFound, false},
		{"not supported", store.ErrNotSupported, false},
		{"not connected", fmt.Errorf("%w: %w", store.ErrBackendUnavailable, store.ErrNotConnected), false},
		{"canceled", context.Canceled, false},
		{"marked permanent", fmt.Errorf("%w: %w", ErrNotRetryable, store.ErrPersistence), false},
		{"deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), false},
		{"unknown", errors.New("boom"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DefaultIsRetryable(tt.err); got != tt.want {
				t.Errorf("DefaultIsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestDo(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		err := Do(ctx, fastConfig(3), func(context.Context) error {
			calls++
			if calls < 3 {
				return store.ErrBackendUnavailable
			}
			return nil
		})
		if err != nil || calls != 3 {
			t.Errorf("expected success on third call, got %v after %d", err, calls)
		}
	})

	t.Run("stops on permanent error", func(t *testing.T) {
		calls := 0
		err := Do(ctx, fastConfig(3), func(context.Context) error {
			calls++
			return store.ErrMailboxNotFound
		})
		if !errors.Is(err, ErrNotRetryable) || !errors.Is(err, store.ErrMailboxNotFound) || calls != 1 {
			t.Errorf("expected one non-retryable attempt, got %v after %d", err, calls)
		}
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		calls := 0
		err := Do(ctx, fastConfig(2), func(context.Context) error {
			calls++
			return store.ErrPersistence
		})
		var rerr *RetryError
		if !errors.As(err, &rerr) || rerr.Attempts != 3 || !errors.Is(err, ErrMaxRetries) {
			t.Errorf("expected exhausted retries, got %v", err)
		}
	})

	t.Run("canceled during backoff", func(t *testing.T) {
		ctx, cancel := context.WithCancel(ctx)
		calls := 0
		err := Do(ctx, Config{MaxRetries: 5, InitialBackoff: time.Hour}, func(context.Context) error {
			calls++
			cancel()
			return store.ErrBackendUnavailable
		})
		var rerr *RetryError
		if !errors.As(err, &rerr) || rerr.Attempts != 1 || !errors.Is(err, ErrContextCanceled) {
			t.Errorf("expected cancellation after one attempt, got %v", err)
		}
		if !errors.Is(err, store.ErrBackendUnavailable) || calls != 1 {
			t.Errorf("expected cause to be kept, got %v after %d", err, calls)
		}
	})

	t.Run("zero retries runs once", func(t *testing.T) {
		calls := 0
		err := Do(ctx, Config{}, func(context.Context) error {
			calls++
			return store.ErrPersistence
		})
		if !errors.Is(err, ErrMaxRetries) || calls != 1 {
			t.Errorf("expected a single attempt, got %v after %d", err, calls)
		}
	})
}

func TestBackoff(t *testing.T) {
	cfg := normalize(Config{InitialBackoff: 10 * time.Millisecond, MaxBackoff: 50 * time.Millisecond})
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond, 50 * time.Millisecond}
	for i, w := range want {
		if got := backoff(cfg, i); got != w {
			t.Errorf("backoff(%d) = %v, want %v", i, got, w)
		}
	}

	cfg.Jitter = 0.5
	for range 100 {
		if got := backoff(cfg, 0); got < 5*time.Millisecond || got > 15*time.Millisecond {
			t.Fatalf("jittered backoff %v outside [5ms, 15ms]", got)
		}
	}
}
