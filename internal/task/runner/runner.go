// Package runner executes queued tasks on a small worker pool. The
// scheduler turns triggers into Enqueue calls; the runner guarantees a
// named task never overlaps itself, bounds each run with a timeout, and
// records a short history for diagnostics. Failed tasks are not retried
// here: the callers that care about failure streaks do their own counting.
package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gexbot/internal/eventbus"
	rtsup "gexbot/internal/runtime/supervisor"
	"gexbot/internal/storage"
	logx "gexbot/pkg/logx"
)

const queueFullWarnEvery = 5 * time.Second

type Runner struct {
	mu    sync.Mutex
	cfg   Config
	log   logx.Logger
	bus   eventbus.Bus
	store storage.Store

	q chan queuedTask

	inFlight int32

	sup      *rtsup.Supervisor
	stopCh   chan struct{}
	stopDone chan struct{}

	stateMu sync.Mutex
	states  map[string]*runState

	hmu     sync.Mutex
	history []HistoryItem

	idSeq uint64

	dropped             uint64
	lastQueueFullWarnAt int64
}

type queuedTask struct {
	task       Task
	enqueuedAt time.Time
	timeout    time.Duration
	state      *runState
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Runner{
		cfg:    cfg,
		log:    log,
		bus:    bus,
		states: make(map[string]*runState),
	}
}

// SetStore installs the audit store. Every run start and failure gets an
// entry; install before Start.
func (r *Runner) SetStore(s storage.Store) { r.store = s }

// Start spins up the worker pool. Idempotent; a second Start while running
// is a no-op.
func (r *Runner) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	r.mu.Lock()
	if r.stopCh != nil {
		done := r.stopDone
		r.mu.Unlock()
		if done != nil {
			select {
			case <-done:
			case <-ctx.Done():
				return
			}
			r.Start(ctx)
		}
		return
	}

	cfg := r.cfg
	r.q = make(chan queuedTask, cfg.QueueSize)
	r.stopCh = make(chan struct{})
	stopCh := r.stopCh
	queue := r.q
	atomic.StoreInt32(&r.inFlight, 0)

	r.sup = rtsup.New(ctx,
		rtsup.WithLogger(r.log.With(logx.String("comp", "runner"))),
		rtsup.WithCancelOnError(false),
	)
	sup := r.sup
	r.mu.Unlock()

	for i := 0; i < cfg.Workers; i++ {
		idx := i
		name := fmt.Sprintf("worker.%d", idx)
		sup.GoRestart(name, func(c context.Context) error {
			r.worker(c, stopCh, queue)
			select {
			case <-stopCh:
				return context.Canceled
			default:
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("worker exited unexpectedly")
		})
	}

	r.log.Info("runner started", logx.Int("workers", cfg.Workers), logx.Int("queue", cap(queue)))
}

// Stop drains nothing: queued tasks that have not started are abandoned,
// running tasks get their context cancelled and the bounded wait below.
func (r *Runner) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	r.mu.Lock()
	if r.stopCh == nil {
		r.mu.Unlock()
		return
	}
	if r.stopDone != nil {
		done := r.stopDone
		r.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	r.stopDone = done
	close(r.stopCh)
	sup := r.sup
	r.mu.Unlock()

	if sup != nil {
		sup.Cancel()
	}

	go func() {
		if sup != nil {
			_ = sup.Wait(context.Background())
		}
		r.mu.Lock()
		r.q = nil
		r.stopCh = nil
		r.stopDone = nil
		r.sup = nil
		atomic.StoreInt32(&r.inFlight, 0)
		r.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		r.log.Info("runner stopped")
	case <-ctx.Done():
		r.log.Warn("runner stop timed out", logx.Any("err", ctx.Err()))
	}
}

// Enqueue accepts a task without blocking. A full queue drops the task
// and returns ErrQueueFull; a task whose previous run is still in flight
// is skipped with ErrOverlapSkip.
func (r *Runner) Enqueue(t Task) error {
	if t.Run == nil {
		return fmt.Errorf("task Run is nil")
	}
	name := strings.TrimSpace(t.Name)
	if name == "" {
		return fmt.Errorf("task Name is required")
	}
	t.Name = name

	now := time.Now()
	if strings.TrimSpace(t.ID) == "" {
		t.ID = r.newTaskID(now)
	}

	r.mu.Lock()
	cfg := r.cfg
	q := r.q
	stopCh := r.stopCh
	stopping := r.stopDone != nil
	r.mu.Unlock()

	if q == nil || stopCh == nil {
		return ErrStopped
	}
	if stopping {
		return ErrStopping
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = cfg.DefaultTimeout
	}

	st := r.stateFor(t.Name)
	if !st.tryAcquire() {
		if r.bus != nil {
			r.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskSkipped, Time: now, Data: TaskEvent{ID: t.ID, Name: t.Name, Started: now, Error: "overlap"}})
		}
		r.log.Debug("task skipped: previous run in flight", logx.String("task", t.Name), logx.String("id", t.ID))
		return ErrOverlapSkip
	}

	select {
	case q <- queuedTask{task: t, enqueuedAt: now, timeout: timeout, state: st}:
		return nil
	default:
		st.release()
		r.onQueueFullDropped(now, t, q)
		return ErrQueueFull
	}
}

func (r *Runner) Snapshot() Snapshot {
	r.mu.Lock()
	cfg := r.cfg
	q := r.q
	r.mu.Unlock()

	ql, qc := 0, 0
	if q != nil {
		ql = len(q)
		qc = cap(q)
	}

	r.hmu.Lock()
	h := make([]HistoryItem, len(r.history))
	copy(h, r.history)
	r.hmu.Unlock()

	return Snapshot{
		Workers:        cfg.Workers,
		QueueLen:       ql,
		QueueCap:       qc,
		InFlight:       int(atomic.LoadInt32(&r.inFlight)),
		Dropped:        atomic.LoadUint64(&r.dropped),
		DefaultTimeout: cfg.DefaultTimeout,
		History:        h,
	}
}

func (r *Runner) stateFor(name string) *runState {
	r.stateMu.Lock()
	st := r.states[name]
	if st == nil {
		st = &runState{}
		r.states[name] = st
	}
	r.stateMu.Unlock()
	return st
}

func (r *Runner) newTaskID(now time.Time) string {
	seq := atomic.AddUint64(&r.idSeq, 1)
	return fmt.Sprintf("tsk-%x-%x", now.UnixNano(), seq)
}

func (r *Runner) onQueueFullDropped(now time.Time, t Task, q chan queuedTask) {
	atomic.AddUint64(&r.dropped, 1)

	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskDropped, Time: now, Data: TaskEvent{ID: t.ID, Name: t.Name, Started: now, Error: "queue_full"}})
	}

	prev := atomic.LoadInt64(&r.lastQueueFullWarnAt)
	n := now.UnixNano()
	if prev != 0 && (n-prev) < int64(queueFullWarnEvery) {
		return
	}
	if !atomic.CompareAndSwapInt64(&r.lastQueueFullWarnAt, prev, n) {
		return
	}
	r.log.Warn(
		"task dropped: queue full",
		logx.String("task", t.Name),
		logx.String("id", t.ID),
		logx.Int("queue_len", len(q)),
		logx.Int("queue_cap", cap(q)),
		logx.Uint64("dropped", atomic.LoadUint64(&r.dropped)),
	)
}

func (r *Runner) pushHistory(item HistoryItem) {
	r.mu.Lock()
	size := r.cfg.HistorySize
	r.mu.Unlock()
	if size <= 0 {
		size = 100
	}
	r.hmu.Lock()
	r.history = append(r.history, item)
	if len(r.history) > size {
		r.history = r.history[len(r.history)-size:]
	}
	r.hmu.Unlock()
}
