// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package retry implements the bounded confirmation poller used to detect
// on-chain artifacts (nonces, mirrored transactions, exchange settlement)
// after an operation has been submitted on an independent ledger.
package retry

import (
	"context"
	"time"

	"github.com/chainweave/chainweave"
)

// Options configure a bounded retry loop.
type Options struct {
	// Retries is the total number of attempts.
	Retries int
	// Delay is the fixed wait between attempts.
	Delay time.Duration
}

// DefaultOptions match the historical poller behavior.
var DefaultOptions = Options{Retries: 50, Delay: 100 * time.Millisecond}

func (o Options) normalized() Options {
	if o.Retries <= 0 {
		o.Retries = DefaultOptions.Retries
	}
	if o.Delay <= 0 {
		o.Delay = DefaultOptions.Delay
	}
	return o
}

// Do invokes op up to opts.Retries times, waiting opts.Delay between
// attempts. The first success wins. Exhausting the budget returns a
// TIMEOUT-coded error that wraps the final attempt's failure; the last
// failure is never swallowed. Context cancellation aborts the wait between
// attempts and returns the context's error.
func Do[T any](ctx context.Context, op func(context.Context) (T, error), opts Options) (T, error) {
	opts = opts.normalized()

	var zero T
	var lastErr error
	for i := 0; i < opts.Retries; i++ {
		if i > 0 {
			timer := time.NewTimer(opts.Delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			}
		}

		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
	}
	return zero, chainweave.WrapError(chainweave.ErrTimeout, "retry budget exhausted", lastErr)
}

// Outcome is the explicit result of a confirmation wait. Historically some
// pollers reported exhaustion as a boolean sentinel and others as a thrown
// error; Outcome carries both facts and lets callers decide which they care
// about.
type Outcome[T any] struct {
	// Value is set when the wait confirmed.
	Value T
	// TimedOut reports that the retry budget was exhausted before the
	// artifact appeared.
	TimedOut bool
	// LastErr is the final attempt's error when TimedOut is true.
	LastErr error
}

// Confirmed reports whether the artifact appeared within the retry budget.
func (o Outcome[T]) Confirmed() bool {
	return !o.TimedOut
}

// Await is Do with exhaustion folded into the Outcome instead of the error.
// The returned error is non-nil only for context cancellation.
func Await[T any](ctx context.Context, op func(context.Context) (T, error), opts Options) (Outcome[T], error) {
	v, err := Do(ctx, op, opts)
	if err == nil {
		return Outcome[T]{Value: v}, nil
	}
	if ctx.Err() != nil {
		return Outcome[T]{}, ctx.Err()
	}
	return Outcome[T]{TimedOut: true, LastErr: err}, nil
}
