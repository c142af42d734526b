package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"gexbot/internal/eventbus"
	"gexbot/internal/task/runner"
	logx "gexbot/pkg/logx"
)

// Config controls the trigger service. Timezone is the default location
// for cron evaluation; individual specs may override it with a
// "CRON_TZ=..." prefix.
type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "America/New_York"
}

type scheduleDef struct {
	id      string
	name    string
	spec    string // cron spec or @every
	timeout time.Duration
	job     func(ctx context.Context) error
	entryID cron.EntryID

	// startupSpread is the initial random delay applied to @every schedules
	// so restarts don't fire everything at once.
	startupSpread time.Duration
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	bus eventbus.Bus

	run *runner.Runner

	parser cron.Parser
	c      *cron.Cron
	defs   []scheduleDef

	// halted gates every trigger. It is checked by the fire wrapper before
	// anything else so callbacks racing HaltAll exit without side effects.
	halted atomic.Bool

	// Enqueue error throttling: key is schedule name.
	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

type ScheduleInfo struct {
	ID      string
	Name    string
	Spec    string
	Timeout time.Duration
	Next    time.Time
	Prev    time.Time
}

type Snapshot struct {
	Enabled  bool
	Timezone string
	Halted   bool

	Schedules []ScheduleInfo
	Runner    runner.Snapshot
}
