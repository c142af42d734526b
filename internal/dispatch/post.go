package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gexbot/internal/eventbus"
	"gexbot/internal/storage"
	"gexbot/internal/transport"
	logx "gexbot/pkg/logx"
)

type postPolicy struct {
	escalate   bool // notify the owner destination on classified failures
	ignoreHalt bool
	plain      bool // send without a parse mode
}

// Post delivers content to a named destination. Delivery failures never
// come back to the caller: they are classified, logged, and escalated to
// the owner where the policy says so. Posts are dropped while halted.
func (d *Dispatcher) Post(ctx context.Context, dest, content string) {
	d.post(ctx, dest, content, postPolicy{escalate: true})
}

// PostUrgent is Post without the halted check. The emergency-stop
// notification itself goes through here; everything scheduled uses Post.
func (d *Dispatcher) PostUrgent(ctx context.Context, dest, content string) {
	d.post(ctx, dest, content, postPolicy{escalate: true, ignoreHalt: true})
}

// NotifyOwner sends an out-of-band plain-text note to the owner
// destination. Failures are logged only; this path never escalates to
// itself.
func (d *Dispatcher) NotifyOwner(ctx context.Context, text string) {
	d.post(ctx, d.ownerDest(), text, postPolicy{ignoreHalt: true, plain: true})
}

func (d *Dispatcher) post(ctx context.Context, dest, content string, pol postPolicy) {
	if strings.TrimSpace(content) == "" {
		return
	}
	st, binding, ok := d.destFor(dest)
	if !ok {
		d.failed.Add(1)
		d.log.Warn("post to unknown destination", logx.String("dest", dest))
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if err := st.limiter.Wait(ctx); err != nil {
		return
	}
	// Successful sends to one destination are never closer than the gap,
	// even when the previous send ran long.
	if gap := d.minGap(); !st.lastSend.IsZero() {
		if wait := gap - time.Since(st.lastSend); wait > 0 && !sleepCtx(ctx, wait) {
			return
		}
	}

	target, err := d.resolveLocked(ctx, st, binding)
	if err != nil {
		d.failed.Add(1)
		d.log.Warn("destination resolution failed",
			logx.String("dest", dest), logx.Err(err))
		return
	}

	d.deliver(ctx, dest, st, binding, target, content, pol)
}

// deliver runs the classified send policy: at most two transport attempts,
// the second only for backpressure (after the signaled delay) or for a
// gone destination that re-resolved to a new identity.
func (d *Dispatcher) deliver(ctx context.Context, dest string, st *destState, b Binding, target transport.ChatTarget, content string, pol postPolicy) {
	err := d.sendOnce(ctx, dest, st, target, content, pol)
	if err == nil {
		return
	}

	switch {
	case isBackpressure(err):
		after, _ := transport.RetryAfterHint(err)
		d.log.Warn("send backpressure",
			logx.String("dest", dest), logx.Duration("retry_after", after), logx.Err(err))
		if !sleepCtx(ctx, after) {
			d.failed.Add(1)
			return
		}
		d.retried.Add(1)
		if err2 := d.sendOnce(ctx, dest, st, target, content, pol); err2 != nil {
			d.failed.Add(1)
			d.log.Error("send retry failed, giving up",
				logx.String("dest", dest), logx.Err(err2))
			d.recordDropped(ctx, dest, target.ChatID, "backpressure", err2)
		}

	case transport.IsTargetGone(err):
		st.target = nil
		fresh, rerr := d.resolveLocked(ctx, st, b)
		if rerr != nil || fresh == target {
			d.failed.Add(1)
			d.log.Error("destination gone",
				logx.String("dest", dest), logx.Int64("chat_id", target.ChatID), logx.Err(err))
			d.escalate(ctx, dest, "gone", err, content, pol)
			d.recordDropped(ctx, dest, target.ChatID, "gone", err)
			return
		}
		// Same name, new identity: the chat was recreated. One retry at
		// the fresh target.
		d.retried.Add(1)
		d.log.Warn("destination rebound",
			logx.String("dest", dest),
			logx.Int64("old_chat_id", target.ChatID),
			logx.Int64("new_chat_id", fresh.ChatID))
		if err2 := d.sendOnce(ctx, dest, st, fresh, content, pol); err2 != nil {
			d.failed.Add(1)
			d.log.Error("send to rebound destination failed",
				logx.String("dest", dest), logx.Err(err2))
			d.escalate(ctx, dest, "gone", err2, content, pol)
			d.recordDropped(ctx, dest, fresh.ChatID, "gone", err2)
		}

	case transport.IsPermissionDenied(err):
		d.failed.Add(1)
		d.log.Error("send permission denied",
			logx.String("dest", dest), logx.Int64("chat_id", target.ChatID), logx.Err(err))
		d.escalate(ctx, dest, "permission", err, content, pol)
		d.recordDropped(ctx, dest, target.ChatID, "permission", err)

	default:
		d.failed.Add(1)
		d.log.Error("send failed",
			logx.String("dest", dest), logx.Int64("chat_id", target.ChatID), logx.Err(err))
		d.recordDropped(ctx, dest, target.ChatID, "", err)
	}
}

// sendOnce performs one transport attempt. The halted flag is checked
// immediately before the send so an emergency stop lands between any two
// externally visible side effects.
func (d *Dispatcher) sendOnce(ctx context.Context, dest string, st *destState, target transport.ChatTarget, content string, pol postPolicy) error {
	if !pol.ignoreHalt && d.isHalted() {
		d.log.Debug("post dropped: halted", logx.String("dest", dest))
		return nil
	}

	opt := &transport.SendOptions{ParseMode: "HTML", DisablePreview: true}
	if pol.plain {
		opt = &transport.SendOptions{DisablePreview: true}
	}
	_, err := d.sender.SendText(ctx, target, content, opt)
	if err != nil {
		return err
	}

	st.lastSend = time.Now()
	d.delivered.Add(1)
	if d.bus != nil {
		d.bus.Publish(eventbus.Event{Type: eventbus.TypeDispatchSent, Data: DispatchEvent{
			Dest:   dest,
			ChatID: target.ChatID,
			Chars:  len(content),
		}})
	}
	return nil
}

// escalate posts a plain-text failure note to the owner destination with
// the class and a bounded preview of the content that could not be
// delivered. Repeats within the dedup window are suppressed.
func (d *Dispatcher) escalate(ctx context.Context, dest, class string, cause error, content string, pol postPolicy) {
	if !pol.escalate {
		return
	}
	if dest == d.ownerDest() {
		return
	}
	if d.dedupOwnerNote(ctx, dest, class) {
		d.suppressed.Add(1)
		d.log.Debug("owner note suppressed",
			logx.String("dest", dest), logx.String("class", class))
		return
	}

	note := fmt.Sprintf("Delivery to %q failed (%s): %v\n\nUndelivered content:\n%s",
		dest, class, cause, previewText(content, d.ownerPreview()))
	d.NotifyOwner(ctx, note)
}

// dedupOwnerNote reports whether a note for dest+class was already sent
// inside the window, and records this one if not.
func (d *Dispatcher) dedupOwnerNote(ctx context.Context, dest, class string) bool {
	if d.store == nil {
		return false
	}
	key := "ownernote:" + dest + ":" + class
	now := time.Now()
	if until, ok, err := d.store.GetDedup(ctx, key); err == nil && ok && until.After(now) {
		return true
	}
	if err := d.store.PutDedup(ctx, key, now.Add(d.ownerDedupWindow())); err != nil {
		d.log.Warn("owner note dedup write failed", logx.Err(err))
	}
	return false
}

// recordDropped publishes the drop event and appends the audit entry for
// an abandoned send. Bookkeeping only; the content is already lost.
func (d *Dispatcher) recordDropped(ctx context.Context, dest string, chatID int64, class string, err error) {
	if d.bus != nil {
		d.bus.Publish(eventbus.Event{Type: eventbus.TypeDispatchDropped, Data: DispatchEvent{
			Dest:   dest,
			ChatID: chatID,
			Class:  class,
			Error:  err.Error(),
		}})
	}
	if d.store == nil {
		return
	}
	action := "send_dropped"
	if class != "" {
		action = "send_dropped_" + class
	}
	aerr := d.store.AppendAudit(ctx, storage.AuditEntry{
		At:     time.Now(),
		Kind:   storage.AuditDispatch,
		Actor:  "dispatch",
		Dest:   dest,
		Action: action,
		OK:     false,
		Error:  err.Error(),
	})
	if aerr != nil {
		d.log.Warn("audit append failed", logx.Err(aerr))
	}
}

func (d *Dispatcher) minGap() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg.MinGap
}

func (d *Dispatcher) ownerDest() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg.OwnerDest
}

func (d *Dispatcher) ownerPreview() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg.OwnerPreview
}

func (d *Dispatcher) ownerDedupWindow() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg.OwnerDedupWindow
}

func isBackpressure(err error) bool {
	_, ok := transport.RetryAfterHint(err)
	return ok
}

func previewText(s string, max int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "…"
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
