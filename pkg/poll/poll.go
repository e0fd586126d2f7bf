// Package poll provides a generic cooperative polling loop with backoff and
// context-based cancellation.
//
// The central function is [Poll]: it invokes an asynchronous probe until the
// probe reports completion, sleeping between ticks and backing off on
// consecutive probe errors. Probe errors are deliberately non-fatal — a
// transient network blip while polling must not abort a multi-minute backend
// job — so only context cancellation or a done probe terminates the loop.
//
// Usage:
//
//	job, err := poll.Poll(ctx, func(ctx context.Context) (poll.Result[*Job], error) {
//	    j, err := client.Get(ctx, id)
//	    if err != nil {
//	        return poll.Result[*Job]{}, err
//	    }
//	    return poll.Result[*Job]{Done: j.Status.IsTerminal(), Data: j}, nil
//	}, poll.Options{Interval: 2 * time.Second, Backoff: poll.ExpBackoff(2*time.Second, time.Minute)})
package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrCancelled is returned (wrapped) by [Poll] when the context is cancelled
// before the probe reports completion. Distinguish it from probe failures with
// [errors.Is].
var ErrCancelled = errors.New("poll: cancelled")

// ErrMaxIterations is returned by [Poll] when Options.MaxIterations probe
// invocations have completed without the probe reporting done.
var ErrMaxIterations = errors.New("poll: max iterations reached")

// Result is a single probe outcome. When Done is true the loop stops and
// Data is returned to the caller.
type Result[T any] struct {
	Done bool
	Data T
}

// Probe is one polling attempt. Returning an error counts as a non-terminal
// failure: the loop retries after the next interval plus backoff. Probes
// should honour ctx and return promptly once it is cancelled.
type Probe[T any] func(ctx context.Context) (Result[T], error)

// Options tunes a [Poll] loop. The zero value is usable but polls in a tight
// 1-second loop without backoff; most callers set at least Interval.
type Options struct {
	// Interval is the base sleep between probe invocations. Default: 1s.
	Interval time.Duration

	// Backoff maps the current consecutive-error count to an additional
	// delay added on top of Interval. Nil means no backoff. See [ExpBackoff].
	Backoff func(consecutiveErrors int) time.Duration

	// MaxIterations bounds the number of probe invocations. Zero means
	// unbounded. When the bound is reached without the probe reporting done,
	// Poll returns [ErrMaxIterations] — this turns the loop into a
	// best-effort bounded probe rather than an open-ended wait.
	MaxIterations int
}

// Poll repeatedly invokes probe until it reports done, the context is
// cancelled, or the iteration bound is reached. The first probe runs
// immediately; subsequent probes run after Interval plus any backoff delay.
//
// A probe error increments the consecutive-error counter (feeding Backoff)
// and is otherwise swallowed; a successful probe resets the counter. On
// cancellation the returned error wraps both [ErrCancelled] and the context's
// error and no further probe invocation occurs.
func Poll[T any](ctx context.Context, probe Probe[T], opts Options) (T, error) {
	var zero T

	interval := opts.Interval
	if interval <= 0 {
		interval = time.Second
	}

	consecutiveErrors := 0
	for iteration := 0; ; iteration++ {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("%w: %w", ErrCancelled, err)
		}

		res, err := probe(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			// The probe failed because the context died under it.
			return zero, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		case err != nil:
			consecutiveErrors++
			slog.Debug("poll: probe error, retrying",
				"consecutive_errors", consecutiveErrors,
				"err", err,
			)
		default:
			consecutiveErrors = 0
			if res.Done {
				return res.Data, nil
			}
		}

		if opts.MaxIterations > 0 && iteration+1 >= opts.MaxIterations {
			return zero, ErrMaxIterations
		}

		delay := interval
		if opts.Backoff != nil {
			delay += opts.Backoff(consecutiveErrors)
		}
		if err := sleep(ctx, delay); err != nil {
			return zero, fmt.Errorf("%w: %w", ErrCancelled, err)
		}
	}
}

// ExpBackoff returns a backoff policy that adds no delay for at most one
// consecutive error and otherwise interval * 2^(n-1) for n consecutive
// errors, capped at maxDelay.
func ExpBackoff(interval, maxDelay time.Duration) func(consecutiveErrors int) time.Duration {
	return func(consecutiveErrors int) time.Duration {
		if consecutiveErrors <= 1 {
			return 0
		}
		delay := interval
		for i := 1; i < consecutiveErrors; i++ {
			delay *= 2
			if delay >= maxDelay {
				return maxDelay
			}
		}
		return delay
	}
}

// sleep blocks for d or until ctx is cancelled, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
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
