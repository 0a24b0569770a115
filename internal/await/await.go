// Package await holds the bounded-wait combinators everything else sleeps
// through. No caller in this repo waits on wall time directly: all pacing
// goes through a Clock so tests run the whole state machine against a fake.
package await

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when a wait's budget elapses before its condition
// holds. Callers that treat expiry as a soft outcome branch on it.
var ErrTimeout = errors.New("await: timed out")

// Clock abstracts time for the wait combinators.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until the context is done.
	Sleep(ctx context.Context, d time.Duration) error
}

// RealClock is the production clock.
type RealClock struct{}

var _ Clock = RealClock{}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Poll calls pred every interval until it reports true, the budget elapses,
// or the context is canceled. A pred error aborts the wait immediately.
func Poll(ctx context.Context, clk Clock, interval, budget time.Duration, pred func() (bool, error)) error {
	deadline := clk.Now().Add(budget)
	for {
		ok, err := pred()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if !clk.Now().Before(deadline) {
			return ErrTimeout
		}
		if err := clk.Sleep(ctx, interval); err != nil {
			return err
		}
	}
}

// Watcher is the slice of dom.Document the combinators need: a change
// notification subscription.
type Watcher interface {
	Watch() (changes <-chan struct{}, cancel func())
}

// ConditionOpts bounds one observed wait.
type ConditionOpts struct {
	Budget time.Duration
	// Tick caps how long to wait between re-checks when no change
	// notification arrives.
	Tick time.Duration
	// Settle is slept after the condition first holds, letting the page's
	// own reactions land before the caller reads further state.
	Settle time.Duration
}

// Condition waits until pred holds, re-checking on every change notification
// from w and at least every Tick. On budget expiry the predicate gets one
// final look before ErrTimeout.
func Condition(ctx context.Context, clk Clock, w Watcher, opts ConditionOpts, pred func() bool) error {
	changes, cancel := w.Watch()
	defer cancel()

	deadline := clk.Now().Add(opts.Budget)
	for {
		if pred() {
			if opts.Settle > 0 {
				return clk.Sleep(ctx, opts.Settle)
			}
			return nil
		}
		if !clk.Now().Before(deadline) {
			if pred() {
				return nil
			}
			return ErrTimeout
		}
		if err := changeOrTick(ctx, clk, changes, opts.Tick); err != nil {
			return err
		}
	}
}

// changeOrTick blocks until a change notification, a tick, or cancellation.
func changeOrTick(ctx context.Context, clk Clock, changes <-chan struct{}, tick time.Duration) error {
	slept := make(chan error, 1)
	sleepCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { slept <- clk.Sleep(sleepCtx, tick) }()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-changes:
		return nil
	case err := <-slept:
		return err
	}
}
