package runner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gexbot/internal/eventbus"
	"gexbot/internal/storage"
	logx "gexbot/pkg/logx"
)

type auditStore struct {
	mu      sync.Mutex
	entries []storage.AuditEntry
}

func (a *auditStore) AppendAudit(ctx context.Context, e storage.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
	return nil
}
func (a *auditStore) RecentAudit(ctx context.Context, limit int) ([]storage.AuditEntry, error) {
	return nil, nil
}
func (a *auditStore) PutDedup(ctx context.Context, key string, until time.Time) error { return nil }
func (a *auditStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	return time.Time{}, false, nil
}
func (a *auditStore) Close() error { return nil }

func (a *auditStore) snapshot() []storage.AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]storage.AuditEntry, len(a.entries))
	copy(out, a.entries)
	return out
}

func startRunner(t *testing.T, cfg Config, bus eventbus.Bus) *Runner {
	t.Helper()
	r := New(cfg, logx.Nop(), bus)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	r.Start(ctx)
	t.Cleanup(func() {
		sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer scancel()
		r.Stop(sctx)
	})
	return r
}

func TestEnqueueRunsTask(t *testing.T) {
	r := startRunner(t, Config{Workers: 1}, nil)

	done := make(chan struct{})
	err := r.Enqueue(Task{Name: "hello", Run: func(ctx context.Context) error {
		close(done)
		return nil
	}})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
	}
}

func TestOverlapSkipsSecondTrigger(t *testing.T) {
	r := startRunner(t, Config{Workers: 2}, nil)

	release := make(chan struct{})
	started := make(chan struct{})
	var runs atomic.Int32
	job := func(ctx context.Context) error {
		runs.Add(1)
		close(started)
		<-release
		return nil
	}
	if err := r.Enqueue(Task{Name: "scan", Run: job}); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	<-started

	err := r.Enqueue(Task{Name: "scan", Run: job})
	if !errors.Is(err, ErrOverlapSkip) {
		t.Fatalf("second enqueue err = %v, want ErrOverlapSkip", err)
	}
	close(release)

	// A different name is not gated.
	done := make(chan struct{})
	if err := r.Enqueue(Task{Name: "brief", Run: func(ctx context.Context) error {
		close(done)
		return nil
	}}); err != nil {
		t.Fatalf("other-name enqueue: %v", err)
	}
	<-done
	if got := runs.Load(); got != 1 {
		t.Fatalf("scan ran %d times, want 1", got)
	}
}

func TestOverlapReleasedAfterRun(t *testing.T) {
	r := startRunner(t, Config{Workers: 1}, nil)

	var runs atomic.Int32
	job := func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}
	// The in-flight state releases only after the worker finishes a run, so
	// retriggering may briefly see overlap skips. Each trigger must
	// eventually be accepted again.
	for i := 0; i < 3; i++ {
		deadline := time.Now().Add(2 * time.Second)
		for {
			err := r.Enqueue(Task{Name: "repeat", Run: job})
			if err == nil {
				break
			}
			if !errors.Is(err, ErrOverlapSkip) {
				t.Fatalf("enqueue %d: %v", i, err)
			}
			if time.Now().After(deadline) {
				t.Fatal("in-flight state never released")
			}
			time.Sleep(5 * time.Millisecond)
		}
	}
	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("ran %d times, want 3", runs.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestTimeoutCancelsRun(t *testing.T) {
	r := startRunner(t, Config{Workers: 1, DefaultTimeout: 20 * time.Millisecond}, nil)

	got := make(chan error, 1)
	if err := r.Enqueue(Task{Name: "slow", Run: func(ctx context.Context) error {
		<-ctx.Done()
		got <- ctx.Err()
		return ctx.Err()
	}}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	select {
	case err := <-got:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("ctx err = %v, want deadline exceeded", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout never fired")
	}
}

func TestPanicRecordedAsFailure(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	r := startRunner(t, Config{Workers: 1}, bus)
	if err := r.Enqueue(Task{Name: "boom", Run: func(ctx context.Context) error {
		panic("kaboom")
	}}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type != eventbus.TypeTaskFailed {
				continue
			}
			te, ok := ev.Data.(TaskEvent)
			if !ok {
				t.Fatalf("unexpected payload %T", ev.Data)
			}
			if te.Name != "boom" || te.Error == "" {
				t.Fatalf("bad failure event: %+v", te)
			}
			return
		case <-deadline:
			t.Fatal("no failure event")
		}
	}
}

func TestQueueFullDrops(t *testing.T) {
	r := startRunner(t, Config{Workers: 1, QueueSize: 1}, nil)

	release := make(chan struct{})
	started := make(chan struct{})
	if err := r.Enqueue(Task{Name: "block", Run: func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}}); err != nil {
		t.Fatalf("enqueue blocker: %v", err)
	}
	<-started

	// Fill the single queue slot, then overflow it.
	if err := r.Enqueue(Task{Name: "fill", Run: func(ctx context.Context) error { return nil }}); err != nil {
		t.Fatalf("enqueue filler: %v", err)
	}
	err := r.Enqueue(Task{Name: "spill", Run: func(ctx context.Context) error { return nil }})
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("overflow err = %v, want ErrQueueFull", err)
	}
	if r.Snapshot().Dropped != 1 {
		t.Fatalf("dropped = %d, want 1", r.Snapshot().Dropped)
	}
	close(release)
}

func TestRunsLeaveAuditTrail(t *testing.T) {
	st := &auditStore{}
	r := New(Config{Workers: 1}, logx.Nop(), nil)
	r.SetStore(st)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer scancel()
		r.Stop(sctx)
	}()

	done := make(chan struct{})
	if err := r.Enqueue(Task{Name: "brief", Run: func(ctx context.Context) error {
		close(done)
		return nil
	}}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	<-done
	if err := r.Enqueue(Task{Name: "scan", Run: func(ctx context.Context) error {
		return errors.New("feed down")
	}}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		seen := map[string]storage.AuditEntry{}
		for _, e := range st.snapshot() {
			if e.Kind != storage.AuditTask {
				t.Fatalf("entry kind = %q, want task", e.Kind)
			}
			seen[e.Action] = e
		}
		_, started := seen["scan_started"]
		failed, hasFailed := seen["scan_failed"]
		if _, ok := seen["brief_started"]; ok && started && hasFailed {
			if failed.OK || failed.Error == "" {
				t.Fatalf("failure entry = %+v", failed)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("audit trail incomplete: %v", st.snapshot())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEnqueueAfterStop(t *testing.T) {
	r := New(Config{Workers: 1}, logx.Nop(), nil)
	ctx := context.Background()
	r.Start(ctx)
	sctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	r.Stop(sctx)

	err := r.Enqueue(Task{Name: "late", Run: func(ctx context.Context) error { return nil }})
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
}
