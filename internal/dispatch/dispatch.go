// Package dispatch delivers outbound content to named destinations under a
// per-destination minimum send gap, with failure classification, a single
// backpressure retry, and owner escalation for dead or forbidden chats.
//
// Destinations are logical names ("trading", "general", "owner") bound in
// config to a numeric chat ID or an @username. Bindings are resolved per
// send because chats get recreated under the same name with a new identity.
package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"gexbot/internal/eventbus"
	"gexbot/internal/storage"
	"gexbot/internal/transport"
	logx "gexbot/pkg/logx"
)

type Binding struct {
	Chat     string // numeric chat ID or @username
	ThreadID int
}

type Config struct {
	MinGap           time.Duration // min spacing between sends to one destination
	OwnerDest        string        // destination name for escalations
	OwnerPreview     int           // max runes of failed content quoted to the owner
	OwnerDedupWindow time.Duration // suppress repeated owner notes per dest+class
}

func (c *Config) normalize() {
	if c.OwnerDest == "" {
		c.OwnerDest = "owner"
	}
	if c.OwnerPreview <= 0 {
		c.OwnerPreview = 160
	}
	if c.OwnerDedupWindow <= 0 {
		c.OwnerDedupWindow = 30 * time.Minute
	}
}

// Sender is the slice of the transport adapter the dispatcher needs.
type Sender interface {
	SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error)
}

// DispatchEvent is the bus payload for dispatch.sent / dispatch.dropped.
type DispatchEvent struct {
	Dest   string
	ChatID int64
	Class  string
	Error  string
	Chars  int
}

type Dispatcher struct {
	log      logx.Logger
	sender   Sender
	resolver transport.ChatResolver
	store    storage.Store
	bus      eventbus.Bus
	halted   func() bool

	mu       sync.Mutex
	cfg      Config
	bindings map[string]Binding
	dests    map[string]*destState

	delivered  atomic.Uint64
	retried    atomic.Uint64
	failed     atomic.Uint64
	suppressed atomic.Uint64
}

// destState serializes sends to one destination. target is the cached
// resolution, guarded by mu; stale is set from config reloads without
// taking mu so a long in-flight send cannot block a reload.
type destState struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	target   *transport.ChatTarget
	lastSend time.Time
	stale    atomic.Bool
}

func New(cfg Config, sender Sender, log logx.Logger, bus eventbus.Bus) *Dispatcher {
	cfg.normalize()
	return &Dispatcher{
		log:      log.With(logx.String("comp", "dispatch")),
		sender:   sender,
		bus:      bus,
		cfg:      cfg,
		bindings: map[string]Binding{},
		dests:    map[string]*destState{},
	}
}

// SetResolver installs the live chat lookup used for @username bindings and
// for re-resolving destinations that report gone.
func (d *Dispatcher) SetResolver(r transport.ChatResolver) { d.resolver = r }

// SetStore installs the dedup store for owner-note flood control.
func (d *Dispatcher) SetStore(s storage.Store) { d.store = s }

// SetHalted installs the emergency-stop flag. Post checks it immediately
// before every send attempt.
func (d *Dispatcher) SetHalted(fn func() bool) { d.halted = fn }

// SetBindings replaces the destination table.
func (d *Dispatcher) SetBindings(bindings map[string]Binding) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bindings = cloneBindings(bindings)
}

// Apply updates config and bindings on a reload. changed lists destination
// names whose binding changed; their cached resolutions are invalidated.
func (d *Dispatcher) Apply(cfg Config, bindings map[string]Binding, changed []string) {
	cfg.normalize()
	d.mu.Lock()
	oldGap := d.cfg.MinGap
	d.cfg = cfg
	d.bindings = cloneBindings(bindings)
	if cfg.MinGap != oldGap {
		for _, st := range d.dests {
			st.limiter.SetLimit(rate.Every(cfg.MinGap))
		}
	}
	for _, name := range changed {
		if st, ok := d.dests[name]; ok {
			st.stale.Store(true)
		}
	}
	d.mu.Unlock()
}

type Stats struct {
	Delivered  uint64
	Retried    uint64
	Failed     uint64
	Suppressed uint64
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		Delivered:  d.delivered.Load(),
		Retried:    d.retried.Load(),
		Failed:     d.failed.Load(),
		Suppressed: d.suppressed.Load(),
	}
}

func (d *Dispatcher) isHalted() bool {
	return d.halted != nil && d.halted()
}

func newLimiter(gap time.Duration) *rate.Limiter {
	return rate.NewLimiter(rate.Every(gap), 1)
}

func cloneBindings(in map[string]Binding) map[string]Binding {
	out := make(map[string]Binding, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
