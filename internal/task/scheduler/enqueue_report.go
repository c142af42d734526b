package scheduler

import (
	"errors"
	"time"

	"gexbot/internal/task/runner"
	logx "gexbot/pkg/logx"
)

const enqueueWarnThrottle = 5 * time.Second

func (s *Service) reportEnqueueError(name string, err error) {
	if err == nil {
		return
	}
	// Overlap skips happen during normal operation when a run outlasts its
	// period; they are not worth a warning.
	if errors.Is(err, runner.ErrOverlapSkip) {
		s.log.Debug("trigger skipped", logx.String("schedule", name), logx.Any("err", err))
		return
	}

	now := time.Now()
	s.enqMu.Lock()
	if s.lastEnqWarn == nil {
		s.lastEnqWarn = make(map[string]time.Time)
	}
	last := s.lastEnqWarn[name]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[name] = now
	s.enqMu.Unlock()

	s.log.Warn("trigger failed to enqueue", logx.String("schedule", name), logx.Any("err", err))
}
