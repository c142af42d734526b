package scheduler

import (
	"time"

	"gexbot/internal/task/runner"
)

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	enabled := s.cfg.Enabled
	tz := s.cfg.Timezone
	defs := make([]scheduleDef, len(s.defs))
	copy(defs, s.defs)
	c := s.c
	loc := s.loc
	run := s.run
	s.mu.Unlock()

	if loc == nil {
		loc = time.Local
	}
	if tz == "" {
		tz = loc.String()
	}

	items := make([]ScheduleInfo, 0, len(defs))
	for _, d := range defs {
		it := ScheduleInfo{ID: d.id, Name: d.name, Spec: d.spec, Timeout: d.timeout}
		if c != nil && d.entryID != 0 {
			e := c.Entry(d.entryID)
			it.Next = e.Next
			it.Prev = e.Prev
		}
		items = append(items, it)
	}

	var rs runner.Snapshot
	if run != nil {
		rs = run.Snapshot()
	}

	return Snapshot{
		Enabled:   enabled,
		Timezone:  tz,
		Halted:    s.halted.Load(),
		Schedules: items,
		Runner:    rs,
	}
}
