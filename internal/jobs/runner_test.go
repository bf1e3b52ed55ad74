package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestEveryDisabledForNonPositiveInterval(t *testing.T) {
	r := NewRunner()
	var calls atomic.Int64
	r.Every(context.Background(), "noop", 0, func(context.Context) error {
		calls.Add(1)
		return nil
	})

	time.Sleep(30 * time.Millisecond)
	if got := calls.Load(); got != 0 {
		t.Fatalf("calls = %d, want 0", got)
	}
}

func TestEveryRunsImmediatelyThenOnTicks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := NewRunner()
	var calls atomic.Int64
	r.Every(ctx, "heartbeat", 10*time.Millisecond, func(context.Context) error {
		calls.Add(1)
		return nil
	})

	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := calls.Load(); got < 3 {
		t.Fatalf("calls = %d, want >= 3", got)
	}
}

func TestEveryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	r := NewRunner()
	var calls atomic.Int64
	r.Every(ctx, "heartbeat", 10*time.Millisecond, func(context.Context) error {
		calls.Add(1)
		return nil
	})

	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	settled := calls.Load()
	time.Sleep(50 * time.Millisecond)
	// One tick may have been in flight at cancel time.
	if got := calls.Load(); got > settled+1 {
		t.Fatalf("calls kept running after cancel: %d > %d", got, settled+1)
	}
}

func TestEveryToleratesJobErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := NewRunner()
	var calls atomic.Int64
	r.Every(ctx, "flaky", 10*time.Millisecond, func(context.Context) error {
		calls.Add(1)
		return errors.New("downstream unavailable")
	})

	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := calls.Load(); got < 2 {
		t.Fatalf("calls = %d, want >= 2 despite errors", got)
	}
}
