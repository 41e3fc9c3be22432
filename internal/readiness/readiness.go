// Package readiness provides the bounded waits every synchronization point
// is built on. A wait either observes its predicate become true or fails
// with a *TimeoutError naming what it was waiting for.
package readiness

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is matched by every *TimeoutError.
var ErrTimeout = errors.New("readiness timeout")

// TimeoutError reports a predicate that did not become true in time.
type TimeoutError struct {
	Predicate string
	Waited    time.Duration
	// Last is the most recent error the predicate returned, if any.
	Last error
}

func (e *TimeoutError) Error() string {
	if e.Last != nil {
		return fmt.Sprintf("timed out after %s waiting for %s (last error: %v)", e.Waited, e.Predicate, e.Last)
	}
	return fmt.Sprintf("timed out after %s waiting for %s", e.Waited, e.Predicate)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

func (e *TimeoutError) Unwrap() error { return e.Last }

// Predicate reports whether the awaited state has been reached. An error
// means the state could not be observed yet; polling continues. Wrap the
// error with Stop when the state can no longer be reached.
type Predicate func(ctx context.Context) (bool, error)

type stopError struct{ err error }

func (e *stopError) Error() string { return e.err.Error() }
func (e *stopError) Unwrap() error { return e.err }

// Stop marks a predicate error as final: Poll returns err at once.
func Stop(err error) error {
	return &stopError{err: err}
}

// Poll evaluates pred every interval until it returns true or timeout
// elapses. Cancellation of ctx by the caller is returned as ctx.Err().
func Poll(ctx context.Context, name string, timeout, interval time.Duration, pred Predicate) error {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	start := time.Now()
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last error
	for {
		ok, err := pred(waitCtx)
		if err == nil && ok {
			return nil
		}
		var stop *stopError
		if errors.As(err, &stop) {
			return stop.err
		}
		if err != nil {
			last = err
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &TimeoutError{Predicate: name, Waited: time.Since(start).Round(time.Millisecond), Last: last}
		case <-ticker.C:
		}
	}
}

// Until waits for ready to be closed or for timeout to elapse.
func Until(ctx context.Context, name string, timeout time.Duration, ready <-chan struct{}) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ready:
		return nil
	case <-timer.C:
		return &TimeoutError{Predicate: name, Waited: timeout}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Settle pauses for d. It stands in for host UI transitions that cannot be
// observed directly; name identifies the transition in logs and errors.
func Settle(ctx context.Context, name string, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("settle %s: %w", name, ctx.Err())
	}
}
