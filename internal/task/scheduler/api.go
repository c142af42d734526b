package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"gexbot/internal/task/runner"
	logx "gexbot/pkg/logx"
)

// AddSchedule parses schedule and registers the matching job kind.
//
// Supported forms:
//   - Cron: "*/15 * * * *", "30 8 * * 1-5", "@hourly", "CRON_TZ=Asia/Tokyo 0 9 * * *"
//   - Daily HH:MM: "08:30" (every day at 08:30 scheduler time)
//   - Interval duration: "15m", "2h30m"
func (s *Service) AddSchedule(name, schedule string, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return "", err
	}
	switch ps.Kind {
	case SpecCron:
		return s.AddCron(name, ps.Cron, timeout, job)
	case SpecDaily:
		return s.AddDaily(name, ps.Daily, timeout, job)
	case SpecInterval:
		return s.AddInterval(name, ps.Every, timeout, job)
	default:
		return "", fmt.Errorf("unsupported schedule kind")
	}
}

// AddCron registers a recurring job under a cron rule. Malformed rules
// fail here, at registration, never silently at fire time. Upserts by
// name so hot-reloads don't double-register.
func (s *Service) AddCron(name, spec string, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(name) == "" {
		return "", errors.New("name required")
	}
	if job == nil {
		return "", errors.New("job required")
	}
	spec = strings.TrimSpace(spec)
	if _, err := s.parser.Parse(spec); err != nil {
		return "", fmt.Errorf("schedule %q: %w", spec, err)
	}

	_ = s.removeScheduleLocked(name)
	id := fmt.Sprintf("cron:%d", time.Now().UnixNano())
	d := scheduleDef{
		id:      id,
		name:    name,
		spec:    spec,
		timeout: timeout,
		job:     job,
	}
	s.defs = append(s.defs, d)
	if s.c != nil {
		err := s.addCronLocked(&s.defs[len(s.defs)-1])
		if err != nil {
			s.log.Error("schedule register failed", logx.String("name", name), logx.String("spec", spec), logx.Any("err", err))
		} else {
			s.logRegisteredLocked(name, id, spec, timeout)
		}
		return name, err
	}
	// Not started yet: keep the definition and register it when Start runs.
	return name, nil
}

// AddCronTZ is AddCron with an explicit per-job timezone.
func (s *Service) AddCronTZ(name, spec, tz string, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return s.AddCron(name, spec, timeout, job)
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return "", fmt.Errorf("timezone %q: %w", tz, err)
	}
	return s.AddCron(name, "CRON_TZ="+tz+" "+strings.TrimSpace(spec), timeout, job)
}

// AddDaily registers a job that runs every day at HH:MM scheduler time.
func (s *Service) AddDaily(name string, atHHMM string, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	h, m, err := parseHHMM(atHHMM)
	if err != nil {
		return "", err
	}
	return s.AddCron(name, fmt.Sprintf("%d %d * * *", m, h), timeout, job)
}

// AddInterval registers a fixed-period job independent of wall-clock
// alignment. Intervals under a second are rejected.
func (s *Service) AddInterval(name string, every time.Duration, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	if every < time.Second {
		return "", fmt.Errorf("interval %s too small (minimum 1s)", every)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(name) == "" {
		return "", errors.New("name required")
	}
	if job == nil {
		return "", errors.New("job required")
	}

	_ = s.removeScheduleLocked(name)
	id := fmt.Sprintf("interval:%d", time.Now().UnixNano())
	spec := fmt.Sprintf("@every %s", every.String())
	d := scheduleDef{
		id:      id,
		name:    name,
		spec:    spec,
		timeout: timeout,
		job:     job,
	}
	s.defs = append(s.defs, d)
	if s.c != nil {
		err := s.addCronLocked(&s.defs[len(s.defs)-1])
		if err != nil {
			s.log.Error("schedule register failed", logx.String("name", name), logx.String("spec", spec), logx.Any("err", err))
		} else {
			s.logRegisteredLocked(name, id, spec, timeout)
		}
		return name, err
	}
	return name, nil
}

// Remove unschedules the named job and drops its definition. Returns true
// if something was removed. Safe while stopped.
func (s *Service) Remove(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	s.mu.Lock()
	removed := s.removeScheduleLocked(name)
	s.mu.Unlock()
	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

// removeScheduleLocked removes all defs matching name and unregisters
// them from cron if running. Call with s.mu held.
func (s *Service) removeScheduleLocked(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	removed := false
	if s.c != nil {
		for i := range s.defs {
			if s.defs[i].name == name && s.defs[i].entryID != 0 {
				s.c.Remove(s.defs[i].entryID)
				s.defs[i].entryID = 0
				removed = true
			}
		}
	}
	n := 0
	for _, d := range s.defs {
		if d.name == name {
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	if n < len(s.defs) {
		s.defs = s.defs[:n]
	}
	return removed
}

// addCronLocked registers one definition with the running cron. The fire
// wrapper checks the halted flag before anything else, then hands the job
// to the runner, which guarantees the previous invocation has finished.
func (s *Service) addCronLocked(d *scheduleDef) error {
	def := *d
	job := cron.FuncJob(func() {
		if s.halted.Load() {
			s.log.Debug("trigger suppressed: halted", logx.String("schedule", def.name))
			return
		}
		if err := s.enqueueDef(def); err != nil {
			s.reportEnqueueError(def.name, err)
		}
	})

	spec := strings.TrimSpace(d.spec)
	if strings.HasPrefix(spec, "@every") {
		everyStr := strings.TrimSpace(strings.TrimPrefix(spec, "@every"))
		every, err := time.ParseDuration(everyStr)
		if err == nil && every > 0 {
			loc := s.loc
			if loc == nil {
				loc = time.Local
			}
			// Spread interval first-runs so a restart doesn't fire the whole
			// watchlist machinery at once.
			sched, jitter := makeIntervalScheduleWithSpread(every, time.Now().In(loc), d.name)
			d.startupSpread = jitter
			d.entryID = s.c.Schedule(sched, job)
			return nil
		}
	}

	d.startupSpread = 0
	eid, err := s.c.AddJob(d.spec, job)
	if err == nil {
		d.entryID = eid
	}
	return err
}

func (s *Service) enqueueDef(d scheduleDef) error {
	if s.run == nil {
		return errors.New("runner not configured")
	}
	return s.run.Enqueue(runner.Task{Name: d.name, Timeout: d.timeout, Run: d.job})
}

// restartLocked rebuilds cron (new location) and re-registers all defs.
// Call with s.mu held.
func (s *Service) restartLocked() {
	if s.c != nil {
		<-s.c.Stop().Done()
	}
	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	for i := range s.defs {
		_ = s.addCronLocked(&s.defs[i])
	}
	s.c.Start()
	s.log.Info("scheduler restarted", logx.String("tz", loc.String()), logx.Int("schedules", len(s.defs)))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Any("err", err))
		return time.Local
	}
	return loc
}

func (s *Service) logRegisteredLocked(name, id, spec string, timeout time.Duration) {
	args := []logx.Field{logx.String("name", name), logx.String("id", id), logx.String("spec", spec), logx.Duration("timeout", timeout)}
	if next := s.previewNextRunsLocked(spec, 4); next != "" {
		args = append(args, logx.String("next", next))
	}
	s.log.Debug("schedule registered", args...)
}

// previewNextRunsLocked returns a short list of upcoming run times for
// debug logging. Call with s.mu held.
func (s *Service) previewNextRunsLocked(spec string, n int) string {
	if s.log.IsZero() || !s.log.Enabled(logx.LevelDebug) || n <= 0 {
		return ""
	}
	loc := s.loc
	if loc == nil {
		loc = s.loadLocationLocked()
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return ""
	}
	t := time.Now().In(loc)
	var b strings.Builder
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}

func parseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
