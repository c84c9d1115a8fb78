// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chainweave/chainweave"
)

func TestDoFirstSuccess(t *testing.T) {
	var attempts int
	v, err := Do(context.Background(), func(context.Context) (string, error) {
		attempts++
		if attempts < 3 {
			return "", errors.New("not yet")
		}
		return "found", nil
	}, Options{Retries: 5, Delay: time.Millisecond})
	if err != nil {
		t.Fatalf("Do error: %v", err)
	}
	if v != "found" {
		t.Fatalf("got %q", v)
	}
	if attempts != 3 {
		t.Fatalf("kept trying after success: %d attempts", attempts)
	}
}

func TestDoExhaustion(t *testing.T) {
	lastErr := errors.New("still missing")
	var attempts int
	_, err := Do(context.Background(), func(context.Context) (int, error) {
		attempts++
		return 0, lastErr
	}, Options{Retries: 4, Delay: time.Millisecond})

	if attempts != 4 {
		t.Fatalf("expected exactly 4 attempts, got %d", attempts)
	}
	var coded *chainweave.Error
	if !errors.As(err, &coded) || coded.Kind() != chainweave.ErrTimeout {
		t.Fatalf("expected TIMEOUT-coded error, got %v", err)
	}
	if !errors.Is(err, lastErr) {
		t.Fatalf("last attempt error not preserved in %v", err)
	}
}

func TestDoDelayBetweenAttempts(t *testing.T) {
	const delay = 20 * time.Millisecond
	start := time.Now()
	Do(context.Background(), func(context.Context) (int, error) {
		return 0, errors.New("no")
	}, Options{Retries: 3, Delay: delay})

	// 3 attempts means 2 inter-attempt waits.
	if elapsed := time.Since(start); elapsed < 2*delay {
		t.Fatalf("attempts not spaced by delay: %v elapsed", elapsed)
	}
}

func TestDoContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var attempts int
	done := make(chan error, 1)
	go func() {
		_, err := Do(ctx, func(context.Context) (int, error) {
			attempts++
			return 0, errors.New("no")
		}, Options{Retries: 100, Delay: 50 * time.Millisecond})
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Do did not return after cancellation")
	}
	if attempts >= 100 {
		t.Fatal("cancellation did not shorten the loop")
	}
}

func TestDoDefaults(t *testing.T) {
	var attempts int
	Do(context.Background(), func(context.Context) (int, error) {
		attempts++
		return 0, errors.New("no")
	}, Options{Retries: 2}) // zero delay normalizes to the default
	if attempts != 2 {
		t.Fatalf("explicit retries not honored: %d", attempts)
	}
}

func TestAwaitConfirmed(t *testing.T) {
	outcome, err := Await(context.Background(), func(context.Context) (string, error) {
		return "0xabc", nil
	}, Options{Retries: 1, Delay: time.Millisecond})
	if err != nil {
		t.Fatalf("Await error: %v", err)
	}
	if !outcome.Confirmed() || outcome.Value != "0xabc" {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
}

func TestAwaitTimedOut(t *testing.T) {
	opErr := errors.New("not found")
	outcome, err := Await(context.Background(), func(context.Context) (string, error) {
		return "", opErr
	}, Options{Retries: 2, Delay: time.Millisecond})
	if err != nil {
		t.Fatalf("exhaustion should not be an error from Await: %v", err)
	}
	if outcome.Confirmed() {
		t.Fatal("outcome should report timeout")
	}
	if !errors.Is(outcome.LastErr, opErr) {
		t.Fatalf("LastErr lost the final failure: %v", outcome.LastErr)
	}
}

func TestAwaitCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// First attempt runs unconditionally; the canceled context aborts the
	// wait before the second.
	_, err := Await(ctx, func(context.Context) (int, error) {
		return 0, errors.New("no")
	}, Options{Retries: 5, Delay: time.Millisecond})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
