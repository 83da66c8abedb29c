package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leadscout/leadscout/internal/retry"
)

func fastConfig() retry.Config {
	return retry.Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
		IsRetryable:  func(error) bool { return true },
	}
}

func TestRetry_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := retry.Retry(context.Background(), fastConfig(), func() error {
		calls++
		return nil
	})

	if err != nil {
		t.Errorf("Retry() error = %v, want nil", err)
	}
	if calls != 1 {
		t.Errorf("got %d calls, want 1", calls)
	}
}

func TestRetry_SucceedsAfterRetries(t *testing.T) {
	calls := 0
	err := retry.Retry(context.Background(), fastConfig(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	if err != nil {
		t.Errorf("Retry() error = %v, want nil", err)
	}
	if calls != 3 {
		t.Errorf("got %d calls, want 3", calls)
	}
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	boom := errors.New("still broken")
	calls := 0
	err := retry.Retry(context.Background(), fastConfig(), func() error {
		calls++
		return boom
	})

	if !errors.Is(err, retry.ErrMaxAttemptsExceeded) {
		t.Errorf("Retry() error = %v, want ErrMaxAttemptsExceeded", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("Retry() error = %v, want wrapped cause", err)
	}
	if calls != 3 {
		t.Errorf("got %d calls, want 3", calls)
	}
}

func TestRetry_NonRetryableStopsImmediately(t *testing.T) {
	cfg := fastConfig()
	cfg.IsRetryable = func(error) bool { return false }

	calls := 0
	err := retry.Retry(context.Background(), cfg, func() error {
		calls++
		return errors.New("bad request")
	})

	if err == nil {
		t.Error("Retry() error = nil, want the original error")
	}
	if calls != 1 {
		t.Errorf("got %d calls, want 1", calls)
	}
}

func TestRetry_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := retry.Retry(ctx, fastConfig(), func() error {
		return errors.New("never reached")
	})

	if !errors.Is(err, retry.ErrContextCancelled) {
		t.Errorf("Retry() error = %v, want ErrContextCancelled", err)
	}
}

func TestDefaultIsRetryable(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil error", err: nil, want: false},
		{name: "timeout", err: errors.New("i/o timeout"), want: true},
		{name: "connection refused", err: errors.New("dial tcp: connection refused"), want: true},
		{name: "deadline exceeded", err: context.DeadlineExceeded, want: true},
		{name: "validation error", err: errors.New("missing field"), want: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := retry.DefaultIsRetryable(tc.err); got != tc.want {
				t.Errorf("DefaultIsRetryable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}
