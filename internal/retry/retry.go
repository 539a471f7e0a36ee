// Package retry provides a bounded retry loop for waiting on external
// asynchronous work such as transfer settlement.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrAttemptsExhausted is returned by Poll when the attempt ceiling is reached
// without the operation reporting completion.
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

const (
	defaultInitialDelay = time.Second
	defaultMaxDelay     = 30 * time.Second
)

// Backoff computes the delay before a given attempt.
type Backoff interface {
	NextDelay(attempt int) time.Duration
}

// Fixed waits the same interval between every attempt.
type Fixed time.Duration

func (f Fixed) NextDelay(int) time.Duration { return time.Duration(f) }

// Exponential doubles the delay after each attempt, capped at Max.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

func (e Exponential) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	initial := e.Initial
	if initial <= 0 {
		initial = defaultInitialDelay
	}
	max := e.Max
	if max <= 0 {
		max = defaultMaxDelay
	}

	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

// Policy bounds a retry loop. MaxAttempts is a hard ceiling.
type Policy struct {
	MaxAttempts int
	Backoff     Backoff
}

// Operation is one attempt. It returns done=true once no further attempts are needed.
// A non-nil error aborts the loop immediately.
type Operation func(ctx context.Context, attempt int) (done bool, err error)

// Poll runs op until it reports done, returns an error, the context is cancelled,
// or MaxAttempts attempts have been made. The delay is applied between attempts only.
func Poll(ctx context.Context, policy Policy, op Operation) (int, error) {
	if policy.MaxAttempts < 1 {
		return 0, fmt.Errorf("max attempts must be positive, got %d", policy.MaxAttempts)
	}
	backoff := policy.Backoff
	if backoff == nil {
		backoff = Fixed(defaultInitialDelay)
	}

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		done, err := op(ctx, attempt)
		if err != nil {
			return attempt, err
		}
		if done {
			return attempt, nil
		}
		if attempt == policy.MaxAttempts {
			break
		}
		if err := Wait(ctx, backoff.NextDelay(attempt)); err != nil {
			return attempt, err
		}
	}

	return policy.MaxAttempts, fmt.Errorf("%w after %d attempts", ErrAttemptsExhausted, policy.MaxAttempts)
}

// Wait sleeps for delay or until ctx is done, whichever comes first.
func Wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
