package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestExponential_NextDelay(t *testing.T) {
	b := Exponential{Initial: 100 * time.Millisecond, Max: time.Second}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{50, time.Second},
	}
	for _, tt := range tests {
		if got := b.NextDelay(tt.attempt); got != tt.want {
			t.Errorf("NextDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestPoll_CompletesEarly(t *testing.T) {
	attempts, err := Poll(context.Background(), Policy{MaxAttempts: 5, Backoff: Fixed(time.Millisecond)},
		func(ctx context.Context, attempt int) (bool, error) {
			return attempt == 3, nil
		})
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestPoll_HardCeiling(t *testing.T) {
	calls := 0
	attempts, err := Poll(context.Background(), Policy{MaxAttempts: 30, Backoff: Fixed(0)},
		func(ctx context.Context, attempt int) (bool, error) {
			calls++
			return false, nil
		})
	if !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("Expected ErrAttemptsExhausted, got %v", err)
	}
	if calls != 30 || attempts != 30 {
		t.Errorf("Expected exactly 30 calls, got %d (attempts %d)", calls, attempts)
	}
}

func TestPoll_OperationError(t *testing.T) {
	boom := errors.New("boom")
	_, err := Poll(context.Background(), Policy{MaxAttempts: 5, Backoff: Fixed(0)},
		func(ctx context.Context, attempt int) (bool, error) {
			return false, boom
		})
	if !errors.Is(err, boom) {
		t.Errorf("Expected operation error, got %v", err)
	}
}

func TestPoll_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	start := time.Now()

	_, err := Poll(ctx, Policy{MaxAttempts: 100, Backoff: Fixed(time.Hour)},
		func(ctx context.Context, attempt int) (bool, error) {
			cancel()
			return false, nil
		})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Poll did not return promptly after cancellation")
	}
}

func TestPoll_InvalidPolicy(t *testing.T) {
	if _, err := Poll(context.Background(), Policy{}, nil); err == nil {
		t.Error("Expected error for zero MaxAttempts")
	}
}
