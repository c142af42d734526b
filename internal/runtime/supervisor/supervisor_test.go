package supervisor

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestGoPropagatesFirstError(t *testing.T) {
	s := New(context.Background(), WithCancelOnError(true))

	boom := errors.New("boom")
	s.Go("worker", func(ctx context.Context) error { return boom })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.Wait(ctx)
	if err == nil || !errors.Is(err, boom) {
		t.Fatalf("want wrapped boom, got %v", err)
	}
	if s.Context().Err() == nil {
		t.Fatalf("cancel-on-error did not cancel context")
	}
}

func TestGoRecoversPanic(t *testing.T) {
	s := New(context.Background())
	s.Go("panicky", func(ctx context.Context) error { panic("nope") })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.Wait(ctx)
	if err == nil || !strings.Contains(err.Error(), "panic") {
		t.Fatalf("want panic error, got %v", err)
	}

	snap := s.Snapshot()
	found := false
	for _, g := range snap.Goroutines {
		if g.Name == "panicky" && g.Panics == 1 {
			found = true
		}
	}
	if !found {
		t.Fatalf("panic not recorded in snapshot: %+v", snap.Goroutines)
	}
}

func TestGoRestartGivesUpAfterMaxRestarts(t *testing.T) {
	s := New(context.Background())

	var runs atomic.Int64
	s.GoRestart("flappy", func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("always fails")
	},
		WithRestartBackoff(time.Millisecond, 2*time.Millisecond),
		WithMaxRestarts(2),
	)

	// Initial run + 2 restarts, then the loop gives up on its own.
	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = s.Stop(ctx)

	if got := runs.Load(); got != 3 {
		t.Fatalf("want 3 runs, got %d", got)
	}
}

func TestGoRestartStopsOnCleanExit(t *testing.T) {
	s := New(context.Background())

	var runs atomic.Int64
	s.GoRestart("oneshot", func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}, WithRestartBackoff(time.Millisecond, 2*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = s.Wait(ctx)

	if got := runs.Load(); got != 1 {
		t.Fatalf("clean exit should not restart: got %d runs", got)
	}
}
