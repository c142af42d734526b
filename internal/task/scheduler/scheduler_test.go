package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"gexbot/internal/task/runner"
	logx "gexbot/pkg/logx"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	run := runner.New(runner.Config{Workers: 2, QueueSize: 16}, logx.Nop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	run.Start(ctx)
	t.Cleanup(func() {
		sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer scancel()
		run.Stop(sctx)
	})

	s := New(Config{Enabled: true}, run, logx.Nop(), nil)
	t.Cleanup(func() {
		sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer scancel()
		s.Stop(sctx)
	})
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAddCronRejectsMalformedSpec(t *testing.T) {
	s := newTestService(t)
	if _, err := s.AddCron("bad", "61 25 * *", 0, func(ctx context.Context) error { return nil }); err == nil {
		t.Fatal("expected registration error for malformed spec")
	}
	if _, err := s.AddInterval("tiny", 200*time.Millisecond, 0, func(ctx context.Context) error { return nil }); err == nil {
		t.Fatal("expected registration error for sub-second interval")
	}
	if len(s.Snapshot().Schedules) != 0 {
		t.Fatalf("rejected specs must not leave definitions behind")
	}
}

func TestAddCronTZRejectsUnknownZone(t *testing.T) {
	s := newTestService(t)
	if _, err := s.AddCronTZ("tz", "0 9 * * *", "Mars/Olympus", 0, func(ctx context.Context) error { return nil }); err == nil {
		t.Fatal("expected error for unknown timezone")
	}
}

func TestUpsertByName(t *testing.T) {
	s := newTestService(t)
	job := func(ctx context.Context) error { return nil }
	if _, err := s.AddCron("briefing", "30 8 * * *", 0, job); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if _, err := s.AddCron("briefing", "0 9 * * *", 0, job); err != nil {
		t.Fatalf("second add: %v", err)
	}
	snap := s.Snapshot()
	if len(snap.Schedules) != 1 {
		t.Fatalf("got %d schedules, want 1", len(snap.Schedules))
	}
	if snap.Schedules[0].Spec != "0 9 * * *" {
		t.Fatalf("spec = %q, want upserted value", snap.Schedules[0].Spec)
	}
}

func TestStartIdempotent(t *testing.T) {
	s := newTestService(t)
	if _, err := s.AddCron("daily", "0 9 * * *", 0, func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("add: %v", err)
	}
	ctx := context.Background()
	s.Start(ctx)
	s.Start(ctx)

	snap := s.Snapshot()
	if len(snap.Schedules) != 1 {
		t.Fatalf("got %d schedules after double start, want 1", len(snap.Schedules))
	}
	if snap.Schedules[0].Next.IsZero() {
		t.Fatal("schedule not registered with cron")
	}
}

func TestIntervalFiresAndHaltStopsIt(t *testing.T) {
	s := newTestService(t)
	var runs atomic.Int32
	if _, err := s.AddInterval("tick", time.Second, 0, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("add: %v", err)
	}
	s.Start(context.Background())

	waitFor(t, "first interval fire", func() bool { return runs.Load() >= 1 })

	hctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.HaltAll(hctx)
	if !s.Halted() {
		t.Fatal("Halted() = false after HaltAll")
	}
	// Let any task that was already queued before the halt drain.
	time.Sleep(200 * time.Millisecond)
	before := runs.Load()
	time.Sleep(1500 * time.Millisecond)
	if got := runs.Load(); got != before {
		t.Fatalf("job fired %d more times after halt", got-before)
	}
}

func TestHaltAllIdempotentAndStartResumes(t *testing.T) {
	s := newTestService(t)
	done := make(chan struct{}, 8)
	if _, err := s.AddInterval("scan", time.Hour, 0, func(ctx context.Context) error {
		done <- struct{}{}
		return nil
	}); err != nil {
		t.Fatalf("add: %v", err)
	}
	s.Start(context.Background())

	hctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.HaltAll(hctx)
	s.HaltAll(hctx)

	if err := s.Trigger("scan"); !errors.Is(err, ErrHalted) {
		t.Fatalf("Trigger while halted = %v, want ErrHalted", err)
	}
	select {
	case <-done:
		t.Fatal("job ran while halted")
	case <-time.After(100 * time.Millisecond):
	}

	// Start clears the flag and reactivates the same definitions once.
	s.Start(context.Background())
	if s.Halted() {
		t.Fatal("Halted() = true after restart")
	}
	snap := s.Snapshot()
	if len(snap.Schedules) != 1 {
		t.Fatalf("got %d schedules after halt+start, want 1", len(snap.Schedules))
	}
	if err := s.Trigger("scan"); err != nil {
		t.Fatalf("Trigger after restart: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run after restart")
	}
}

func TestTriggerUnknownSchedule(t *testing.T) {
	s := newTestService(t)
	if err := s.Trigger("nope"); err == nil {
		t.Fatal("expected error for unknown schedule")
	}
}

func TestRemoveDropsDefinition(t *testing.T) {
	s := newTestService(t)
	if _, err := s.AddCron("gone", "0 9 * * *", 0, func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("add: %v", err)
	}
	if !s.Remove("gone") {
		t.Fatal("Remove returned false")
	}
	if s.Remove("gone") {
		t.Fatal("second Remove returned true")
	}
	if len(s.Snapshot().Schedules) != 0 {
		t.Fatal("definition survived Remove")
	}
}
