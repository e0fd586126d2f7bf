package poll_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/scribeval/pkg/poll"
)

func TestPoll_ResolvesAfterExactProbeCount(t *testing.T) {
	t.Parallel()

	var calls int32
	probe := func(ctx context.Context) (poll.Result[int], error) {
		n := atomic.AddInt32(&calls, 1)
		if n < 4 {
			return poll.Result[int]{}, nil
		}
		return poll.Result[int]{Done: true, Data: 42}, nil
	}

	got, err := poll.Poll(context.Background(), probe, poll.Options{Interval: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("Poll returned error: %v", err)
	}
	if got != 42 {
		t.Errorf("Poll = %d, want 42", got)
	}
	if n := atomic.LoadInt32(&calls); n != 4 {
		t.Errorf("probe invoked %d times, want exactly 4", n)
	}
}

func TestPoll_FirstProbeRunsImmediately(t *testing.T) {
	t.Parallel()

	start := time.Now()
	_, err := poll.Poll(context.Background(), func(ctx context.Context) (poll.Result[bool], error) {
		return poll.Result[bool]{Done: true, Data: true}, nil
	}, poll.Options{Interval: 5 * time.Second})
	if err != nil {
		t.Fatalf("Poll returned error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("first probe delayed by %v, want immediate", elapsed)
	}
}

func TestPoll_CancellationMidSleepStopsProbing(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())

	var calls int32
	done := make(chan struct{})
	var pollErr error
	go func() {
		defer close(done)
		_, pollErr = poll.Poll(ctx, func(ctx context.Context) (poll.Result[int], error) {
			atomic.AddInt32(&calls, 1)
			return poll.Result[int]{}, nil
		}, poll.Options{Interval: time.Hour})
	}()

	// Give the loop time to run its first probe and enter the sleep.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Poll did not return after cancellation")
	}

	if !errors.Is(pollErr, poll.ErrCancelled) {
		t.Errorf("Poll error = %v, want ErrCancelled", pollErr)
	}
	if !errors.Is(pollErr, context.Canceled) {
		t.Errorf("Poll error = %v, want wrapped context.Canceled", pollErr)
	}

	before := atomic.LoadInt32(&calls)
	time.Sleep(50 * time.Millisecond)
	if after := atomic.LoadInt32(&calls); after != before {
		t.Errorf("probe invoked after cancellation: %d -> %d", before, after)
	}
	if before != 1 {
		t.Errorf("probe invoked %d times before cancellation, want 1", before)
	}
}

func TestPoll_ProbeErrorsAreRetried(t *testing.T) {
	t.Parallel()

	var calls int32
	probe := func(ctx context.Context) (poll.Result[string], error) {
		n := atomic.AddInt32(&calls, 1)
		if n <= 2 {
			return poll.Result[string]{}, errors.New("transient network blip")
		}
		return poll.Result[string]{Done: true, Data: "ok"}, nil
	}

	got, err := poll.Poll(context.Background(), probe, poll.Options{Interval: time.Millisecond})
	if err != nil {
		t.Fatalf("Poll returned error after transient failures: %v", err)
	}
	if got != "ok" {
		t.Errorf("Poll = %q, want %q", got, "ok")
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("probe invoked %d times, want 3", n)
	}
}

func TestPoll_MaxIterations(t *testing.T) {
	t.Parallel()

	var calls int32
	_, err := poll.Poll(context.Background(), func(ctx context.Context) (poll.Result[int], error) {
		atomic.AddInt32(&calls, 1)
		return poll.Result[int]{}, nil
	}, poll.Options{Interval: time.Millisecond, MaxIterations: 3})

	if !errors.Is(err, poll.ErrMaxIterations) {
		t.Fatalf("Poll error = %v, want ErrMaxIterations", err)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("probe invoked %d times, want 3", n)
	}
}

func TestExpBackoff(t *testing.T) {
	t.Parallel()

	interval := 2 * time.Second
	backoff := poll.ExpBackoff(interval, time.Minute)

	tests := []struct {
		errors int
		want   time.Duration
	}{
		{errors: 0, want: 0},
		{errors: 1, want: 0},
		{errors: 2, want: 4 * time.Second},
		{errors: 3, want: 8 * time.Second},
		{errors: 4, want: 16 * time.Second},
		{errors: 10, want: time.Minute},
		{errors: 100, want: time.Minute},
	}
	for _, tc := range tests {
		if got := backoff(tc.errors); got != tc.want {
			t.Errorf("backoff(%d) = %v, want %v", tc.errors, got, tc.want)
		}
	}
}

func TestPoll_BackoffReceivesErrorCount(t *testing.T) {
	t.Parallel()

	var seen []int
	var calls int32
	probe := func(ctx context.Context) (poll.Result[int], error) {
		n := atomic.AddInt32(&calls, 1)
		if n <= 3 {
			return poll.Result[int]{}, errors.New("boom")
		}
		return poll.Result[int]{Done: true}, nil
	}

	_, err := poll.Poll(context.Background(), probe, poll.Options{
		Interval: time.Millisecond,
		Backoff: func(consecutiveErrors int) time.Duration {
			seen = append(seen, consecutiveErrors)
			return 0
		},
	})
	if err != nil {
		t.Fatalf("Poll returned error: %v", err)
	}

	want := []int{1, 2, 3}
	if len(seen) != len(want) {
		t.Fatalf("backoff called %d times, want %d (%v)", len(seen), len(want), seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("backoff call %d got count %d, want %d", i, seen[i], want[i])
		}
	}
}

func TestPoll_AlreadyCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls int32
	_, err := poll.Poll(ctx, func(ctx context.Context) (poll.Result[int], error) {
		atomic.AddInt32(&calls, 1)
		return poll.Result[int]{Done: true}, nil
	}, poll.Options{Interval: time.Millisecond})

	if !errors.Is(err, poll.ErrCancelled) {
		t.Fatalf("Poll error = %v, want ErrCancelled", err)
	}
	if n := atomic.LoadInt32(&calls); n != 0 {
		t.Errorf("probe invoked %d times on dead context, want 0", n)
	}
}
