package runner

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"gexbot/internal/eventbus"
	"gexbot/internal/storage"
	logx "gexbot/pkg/logx"
)

func (r *Runner) worker(ctx context.Context, stopCh <-chan struct{}, queue chan queuedTask) {
	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case t, ok := <-queue:
			if !ok {
				return
			}
			atomic.AddInt32(&r.inFlight, 1)
			r.execOne(ctx, t)
			atomic.AddInt32(&r.inFlight, -1)
		}
	}
}

func (r *Runner) execOne(ctx context.Context, qt queuedTask) {
	start := time.Now()
	queueDelay := time.Duration(0)
	if !qt.enqueuedAt.IsZero() {
		queueDelay = start.Sub(qt.enqueuedAt)
		if queueDelay < 0 {
			queueDelay = 0
		}
	}
	defer qt.state.release()

	r.log.Debug("task started", logx.String("task", qt.task.Name), logx.Duration("queue_delay", queueDelay))
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskStarted, Time: start, Data: TaskEvent{ID: qt.task.ID, Name: qt.task.Name, Started: start, QueueDelay: queueDelay}})
	}
	r.audit(ctx, storage.AuditEntry{
		At:     start,
		Kind:   storage.AuditTask,
		Actor:  "scheduler",
		Action: qt.task.Name + "_started",
		OK:     true,
	})

	runCtx := ctx
	var cancel func()
	if qt.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, qt.timeout)
	}
	// One bad task must not take down a worker, so panics become errors.
	var err error
	func() {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("panic: %v", p)
				r.log.Error("task panicked", logx.String("task", qt.task.Name), logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
			}
		}()
		err = qt.task.Run(runCtx)
	}()
	if cancel != nil {
		cancel()
	}

	dur := time.Since(start)
	item := HistoryItem{ID: qt.task.ID, Name: qt.task.Name, Started: start, QueueDelay: queueDelay, Duration: dur}
	if err != nil {
		item.Error = err.Error()
		r.log.Warn("task failed", logx.String("task", qt.task.Name), logx.Any("err", err), logx.Duration("dur", dur))
		if r.bus != nil {
			r.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskFailed, Time: time.Now(), Data: TaskEvent{ID: qt.task.ID, Name: qt.task.Name, Started: start, QueueDelay: queueDelay, Duration: dur, Error: item.Error}})
		}
		r.audit(ctx, storage.AuditEntry{
			At:     time.Now(),
			Kind:   storage.AuditTask,
			Actor:  "scheduler",
			Action: qt.task.Name + "_failed",
			OK:     false,
			Error:  item.Error,
			TookMS: dur.Milliseconds(),
		})
	} else {
		if dur >= 750*time.Millisecond {
			r.log.Info("task completed", logx.String("task", qt.task.Name), logx.Duration("dur", dur))
		} else {
			r.log.Debug("task completed", logx.String("task", qt.task.Name), logx.Duration("dur", dur))
		}
		if r.bus != nil {
			r.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskSucceeded, Time: time.Now(), Data: TaskEvent{ID: qt.task.ID, Name: qt.task.Name, Started: start, QueueDelay: queueDelay, Duration: dur}})
		}
	}
	r.pushHistory(item)
}

// audit is fire-and-forget: bookkeeping never delays or fails a run.
func (r *Runner) audit(ctx context.Context, e storage.AuditEntry) {
	if r.store == nil {
		return
	}
	if err := r.store.AppendAudit(ctx, e); err != nil {
		r.log.Warn("audit append failed", logx.Err(err))
	}
}
