package scheduler

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// SpecKind describes the normalized kind of a schedule string.
type SpecKind int

const (
	SpecCron SpecKind = iota
	SpecDaily
	SpecInterval
)

// ParsedSpec represents a parsed schedule string.
//
// Supported forms:
//   - Cron (crontab.guru-style): "*/15 * * * *", "30 8 * * 1-5", "@hourly",
//     "@every 55m", optionally prefixed with "CRON_TZ=<zone>"
//   - Daily HH:MM: "08:30" (every day at 08:30)
//   - Interval duration: "15m", "2h30m"
//
// Optional prefixes:
//   - "cron:" forces cron parsing
//   - "interval:" or "every:" forces interval parsing
type ParsedSpec struct {
	Kind   SpecKind
	Cron   string
	Daily  string // "HH:MM"
	Every  time.Duration
	Source string // "cron" | "daily" | "duration"
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,2}):(\d{2})\s*$`)

// ParseSchedule parses a schedule string into a cron expression, a daily
// time, or an interval duration.
func ParseSchedule(raw string) (ParsedSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ParsedSpec{}, fmt.Errorf("schedule required")
	}

	low := strings.ToLower(s)
	if strings.HasPrefix(low, "cron:") {
		expr := strings.TrimSpace(s[len("cron:"):])
		if expr == "" {
			return ParsedSpec{}, fmt.Errorf("cron schedule required after 'cron:'")
		}
		return ParsedSpec{Kind: SpecCron, Cron: expr, Source: "cron"}, nil
	}
	for _, p := range []string{"interval:", "every:"} {
		if strings.HasPrefix(low, p) {
			d, err := parseIntervalValue(strings.TrimSpace(s[len(p):]))
			if err != nil {
				return ParsedSpec{}, err
			}
			return ParsedSpec{Kind: SpecInterval, Every: d, Source: "duration"}, nil
		}
	}

	// Daily HH:MM, e.g. "08:30".
	if m := reHHMM.FindStringSubmatch(s); m != nil {
		if _, _, err := parseHHMM(s); err != nil {
			return ParsedSpec{}, err
		}
		return ParsedSpec{Kind: SpecDaily, Daily: strings.TrimSpace(s), Source: "daily"}, nil
	}

	// Whitespace, a leading '@', or a TZ prefix means cron.
	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") ||
		strings.HasPrefix(s, "TZ=") || strings.HasPrefix(s, "CRON_TZ=") {
		return ParsedSpec{Kind: SpecCron, Cron: s, Source: "cron"}, nil
	}

	d, err := time.ParseDuration(s)
	if err == nil {
		if d < time.Second {
			return ParsedSpec{}, fmt.Errorf("interval must be at least 1s")
		}
		return ParsedSpec{Kind: SpecInterval, Every: d, Source: "duration"}, nil
	}

	return ParsedSpec{}, fmt.Errorf(
		"invalid schedule %q (use cron like '*/15 * * * *', HH:MM like '08:30', or duration like '15m')",
		raw,
	)
}

// ValidateSpec reports whether raw would register cleanly, including a
// cron-grammar check for cron forms. Used by the config validator so a
// reload with a broken schedule is rejected before commit.
func (s *Service) ValidateSpec(raw string) error {
	ps, err := ParseSchedule(raw)
	if err != nil {
		return err
	}
	if ps.Kind == SpecCron {
		if _, err := s.parser.Parse(ps.Cron); err != nil {
			return fmt.Errorf("schedule %q: %w", raw, err)
		}
	}
	return nil
}

func parseIntervalValue(v string) (time.Duration, error) {
	if v == "" {
		return 0, fmt.Errorf("interval required")
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q (use a Go duration like '15m' or '2h30m')", v)
	}
	if d < time.Second {
		return 0, fmt.Errorf("interval must be at least 1s")
	}
	return d, nil
}
