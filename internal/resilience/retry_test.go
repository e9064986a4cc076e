package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetrySucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), func() error {
		calls++
		return nil
	}, DefaultRetryConfig(), nil)

	if err != nil {
		t.Fatalf("Retry() error: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryEventualSuccess(t *testing.T) {
	config := &RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        10 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}

	calls := 0
	err := Retry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient failure")
		}
		return nil
	}, config, nil)

	if err != nil {
		t.Fatalf("Retry() error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	config := &RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        10 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}

	wantErr := errors.New("persistent failure")
	calls := 0
	err := Retry(context.Background(), func() error {
		calls++
		return wantErr
	}, config, nil)

	if !errors.Is(err, wantErr) {
		t.Errorf("Retry() error = %v, want %v", err, wantErr)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryNonRetryableStopsImmediately(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), func() error {
		calls++
		return errors.New("permanent failure")
	}, DefaultRetryConfig(), func(error) bool { return false })

	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (non-retryable should not retry)", calls)
	}
}

func TestRetryContextCancellation(t *testing.T) {
	config := &RetryConfig{
		MaxAttempts:       10,
		InitialBackoff:    time.Hour, // would block forever without cancellation
		MaxBackoff:        time.Hour,
		BackoffMultiplier: 2.0,
	}

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- Retry(ctx, func() error {
			return errors.New("always fails")
		}, config, nil)
	}()

	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Retry() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Retry() did not return after context cancellation")
	}
}

func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		name    string
		attempt int
		want    time.Duration
	}{
		{"first attempt", 0, 100 * time.Millisecond},
		{"second attempt", 1, 200 * time.Millisecond},
		{"third attempt", 2, 400 * time.Millisecond},
		{"capped at max", 10, 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateBackoff(tt.attempt, 100*time.Millisecond, 5*time.Second, 2.0)
			if got != tt.want {
				t.Errorf("CalculateBackoff(%d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}

func TestIsRetryableNetworkError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"timeout", errors.New("i/o timeout"), true},
		{"rate limit", errors.New("rate limit exceeded"), true},
		{"validation error", errors.New("invalid payload"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryableNetworkError(tt.err); got != tt.want {
				t.Errorf("IsRetryableNetworkError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRetryableErrorWrapping(t *testing.T) {
	inner := errors.New("boom")
	wrapped := NewRetryableError(inner)

	if !IsRetryable(wrapped) {
		t.Error("IsRetryable() = false, want true")
	}
	if !errors.Is(wrapped, inner) {
		t.Error("errors.Is() failed to unwrap RetryableError")
	}
	if IsRetryable(inner) {
		t.Error("IsRetryable() on plain error = true, want false")
	}
	if NewRetryableError(nil) != nil {
		t.Error("NewRetryableError(nil) should return nil")
	}
}
