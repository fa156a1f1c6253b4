// Package retry implements the bounded retry policy used for every remote
// call: per-attempt timeouts that escalate linearly up to a cap, exponential
// backoff between attempts, and terminal errors that distinguish "timed out"
// from other failures.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/corkboard-app/corkboard/internal/errs"
	"github.com/corkboard-app/corkboard/internal/obs"
)

// Policy configures retries for one class of remote call.
type Policy struct {
	MaxAttempts int           // total attempts, 1-indexed
	BaseTimeout time.Duration // attempt k runs with timeout min(BaseTimeout*k, TimeoutCap)
	TimeoutCap  time.Duration
	BaseDelay   time.Duration // backoff before attempt k+1 is BaseDelay*2^(k-1), capped
	MaxDelay    time.Duration
}

// DefaultPolicy matches the shared data API: slow enough for flaky mobile
// links, bounded enough to surface an advisory within a few seconds.
var DefaultPolicy = Policy{
	MaxAttempts: 4,
	BaseTimeout: 4 * time.Second,
	TimeoutCap:  10 * time.Second,
	BaseDelay:   250 * time.Millisecond,
	MaxDelay:    4 * time.Second,
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retryable; Do returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// AttemptTimeout returns the timeout for the 1-indexed attempt.
func (p Policy) AttemptTimeout(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	timeout := p.BaseTimeout * time.Duration(attempt)
	if p.TimeoutCap > 0 && timeout > p.TimeoutCap {
		return p.TimeoutCap
	}
	return timeout
}

// Delay returns the backoff delay after the 1-indexed attempt fails.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Do runs fn under the policy. Each attempt gets its own escalating deadline;
// transient failures are retried after a backoff, Permanent failures and
// parent-context cancellation stop immediately. After MaxAttempts the
// terminal error carries errs.Timeout when the last failure was a timeout and
// errs.Unavailable otherwise.
func (p Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	log := obs.From(ctx).With("pkg", "retry", "op", op)

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	timedOut := false
	for attempt := 1; attempt <= attempts; attempt++ {
		attemptCtx := ctx
		cancel := context.CancelFunc(func() {})
		if p.BaseTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.AttemptTimeout(attempt))
		}
		err := fn(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		lastErr = err
		timedOut = errs.IsTimeout(err) || errors.Is(err, context.DeadlineExceeded)

		if attempt == attempts {
			break
		}
		delay := p.Delay(attempt)
		log.Warn("remote call failed, retrying",
			"attempt", attempt, "max_attempts", attempts, "delay", delay.String(), "error", err)
		if waitErr := sleep(ctx, delay); waitErr != nil {
			return waitErr
		}
	}

	if timedOut {
		return errs.Wrap(errs.Timeout,
			fmt.Sprintf("%s timed out after %d attempts", op, attempts), lastErr)
	}
	return errs.Wrap(errs.Unavailable,
		fmt.Sprintf("%s failed after %d attempts", op, attempts), lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
