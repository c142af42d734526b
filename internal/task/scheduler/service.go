package scheduler

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"gexbot/internal/eventbus"
	"gexbot/internal/task/runner"
	logx "gexbot/pkg/logx"
)

// ErrHalted is returned by Trigger while the scheduler is halted.
var ErrHalted = errors.New("scheduler halted")

func New(cfg Config, run *runner.Runner, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: cfg,
		log: log,
		bus: bus,
		run: run,
		// SecondOptional allows both 5-field and 6-field (with seconds) specs.
		parser:      cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		lastEnqWarn: map[string]time.Time{},
	}
}

// Enabled reports the current config flag. (Thread-safe; Apply may run
// concurrently.)
func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// Halted reports whether HaltAll has stopped triggering. In-flight
// callbacks consult this before doing work.
func (s *Service) Halted() bool { return s.halted.Load() }

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	newTZ := strings.TrimSpace(cfg.Timezone)
	s.cfg = cfg

	if s.c == nil {
		return
	}
	if oldTZ != newTZ {
		// Restart cron with the new location and re-register definitions.
		s.restartLocked()
	}
}

// Start clears the halted flag and activates all registered definitions.
// Idempotent: a second Start while running changes nothing and does not
// double-register.
func (s *Service) Start(ctx context.Context) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.halted.Store(false)
	cur := s.cfg
	s.log.Debug("start requested", logx.Bool("enabled", cur.Enabled), logx.String("tz", strings.TrimSpace(cur.Timezone)))

	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))

	for i := range s.defs {
		_ = s.addCronLocked(&s.defs[i])
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", loc.String()), logx.Int("schedules", len(s.defs)))
}

// Stop stops triggering without setting the halted flag; definitions
// remain registered and Start resumes them. Used for process shutdown
// and timezone restarts.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()

	s.mu.Lock()
	c := s.c
	s.c = nil
	for i := range s.defs {
		s.defs[i].entryID = 0
	}
	s.mu.Unlock()

	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		// best-effort
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

// HaltAll sets the halted flag and cancels every live timer. The flag is
// set before the timers stop so a callback firing during the handover
// still sees it and exits. Definitions survive; Start reactivates them.
// Idempotent.
func (s *Service) HaltAll(ctx context.Context) {
	if s.halted.Swap(true) {
		// Already halted; nothing left to cancel.
		return
	}
	s.log.Warn("scheduler halt requested")
	s.Stop(ctx)
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskSkipped, Time: time.Now(), Data: runner.TaskEvent{Name: "scheduler", Error: "halted"}})
	}
}

// Trigger fires a registered job immediately through the same wrapper a
// timer would use, so halt and overlap rules apply. Used by operator
// commands.
func (s *Service) Trigger(name string) error {
	name = strings.TrimSpace(name)
	s.mu.Lock()
	var def *scheduleDef
	for i := range s.defs {
		if s.defs[i].name == name {
			def = &s.defs[i]
			break
		}
	}
	if def == nil {
		s.mu.Unlock()
		return errors.New("unknown schedule: " + name)
	}
	d := *def
	s.mu.Unlock()

	if s.halted.Load() {
		return ErrHalted
	}
	return s.enqueueDef(d)
}
