// Package halt coordinates the emergency stop: halt all scheduled jobs,
// kill the trading engine, notify the desk. Every step is best effort so
// one failing collaborator never blocks the rest of the shutdown.
package halt

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"gexbot/internal/eventbus"
	"gexbot/internal/storage"
	"gexbot/internal/trading"
	"gexbot/pkg/chatfmt"
	"gexbot/pkg/logx"
)

// Halter stops all scheduled work. Satisfied by the scheduler.
type Halter interface {
	HaltAll(ctx context.Context)
}

// Notifier posts the stop notification even while dispatch is halted.
type Notifier interface {
	PostUrgent(ctx context.Context, dest, content string)
}

// Config configures the coordinator.
type Config struct {
	// Dest is where the stop notification goes. Default "trading".
	Dest string
}

func (c Config) normalize() Config {
	if c.Dest == "" {
		c.Dest = "trading"
	}
	return c
}

// Result reports what one stop pass did. It is always fully populated;
// a failed engine kill leaves PostMortemRef empty and is described in
// Message instead of failing the stop.
type Result struct {
	StopID        string
	PostMortemRef string
	Message       string
	At            time.Time
}

// StopEvent is the bus payload for TypeEmergencyStop.
type StopEvent struct {
	StopID        string
	PostMortemRef string
	Actor         string
}

// Coordinator runs the stop sequence. Calling Stop again is safe: the
// scheduler halt is idempotent and the engine treats a repeated kill as
// already halted.
type Coordinator struct {
	cfg    Config
	sched  Halter
	engine trading.Engine
	notify Notifier
	store  storage.Store
	bus    eventbus.Bus
	log    logx.Logger
	now    func() time.Time
}

func New(cfg Config, sched Halter, engine trading.Engine, notify Notifier, log logx.Logger, bus eventbus.Bus) *Coordinator {
	if engine == nil {
		engine = trading.Noop{}
	}
	return &Coordinator{
		cfg:    cfg.normalize(),
		sched:  sched,
		engine: engine,
		notify: notify,
		log:    log,
		bus:    bus,
		now:    time.Now,
	}
}

// SetStore attaches the audit store. Optional.
func (c *Coordinator) SetStore(st storage.Store) { c.store = st }

// Stop executes the full sequence: audit the request, halt the
// scheduler, kill the engine, notify the desk, audit completion. Actor
// names who asked, "user:<id>" for chat commands.
func (c *Coordinator) Stop(ctx context.Context, actor string) Result {
	start := c.now()
	stopID := uuid.NewString()
	log := c.log.With(logx.String("stop_id", shortID(stopID)))
	log.Warn("emergency stop requested", logx.String("actor", actor))

	c.audit(ctx, storage.AuditEntry{
		At:     start,
		Kind:   storage.AuditHalt,
		Actor:  actor,
		Action: "stop_requested",
		OK:     true,
	})

	c.sched.HaltAll(ctx)
	log.Info("scheduled jobs halted")

	ref, killErr := c.engine.Kill(ctx)
	if killErr != nil {
		log.Error("engine kill failed", logx.Err(killErr))
		c.audit(ctx, storage.AuditEntry{
			At:     c.now(),
			Kind:   storage.AuditHalt,
			Actor:  actor,
			Action: "engine_kill",
			OK:     false,
			Error:  killErr.Error(),
		})
	} else {
		c.audit(ctx, storage.AuditEntry{
			At:       c.now(),
			Kind:     storage.AuditHalt,
			Actor:    actor,
			Action:   "engine_kill",
			OK:       true,
			MetaJSON: fmt.Sprintf(`{"post_mortem_ref":%q}`, ref),
		})
	}

	res := Result{
		StopID:        stopID,
		PostMortemRef: ref,
		Message:       stopText(stopID, ref, killErr),
		At:            start,
	}

	if c.notify != nil {
		c.notify.PostUrgent(ctx, c.cfg.Dest, res.Message)
	}
	if c.bus != nil {
		c.bus.Publish(eventbus.Event{Type: eventbus.TypeEmergencyStop, Data: StopEvent{
			StopID:        stopID,
			PostMortemRef: ref,
			Actor:         actor,
		}})
	}
	c.audit(ctx, storage.AuditEntry{
		At:     c.now(),
		Kind:   storage.AuditHalt,
		Actor:  actor,
		Action: "stop_completed",
		OK:     true,
		TookMS: c.now().Sub(start).Milliseconds(),
	})
	log.Warn("emergency stop complete", logx.Duration("took", c.now().Sub(start)))
	return res
}

func (c *Coordinator) audit(ctx context.Context, e storage.AuditEntry) {
	if c.store == nil {
		return
	}
	if err := c.store.AppendAudit(ctx, e); err != nil {
		c.log.Warn("audit append failed", logx.Err(err))
	}
}

func stopText(stopID, ref string, killErr error) string {
	var b strings.Builder
	b.WriteString("\U0001f6d1 " + chatfmt.B("Emergency stop").String() + "\n")
	b.WriteString("All scheduled jobs halted.\n")
	switch {
	case killErr != nil:
		fmt.Fprintf(&b, "Trading engine kill failed: %s\n", chatfmt.Esc(killErr.Error()))
	case ref != "":
		fmt.Fprintf(&b, "Trading engine halted · post-mortem %s\n", chatfmt.Code(ref))
	default:
		b.WriteString("Trading engine halted.\n")
	}
	fmt.Fprintf(&b, "Stop ID %s", chatfmt.Code(shortID(stopID)))
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
