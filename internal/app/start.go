package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gexbot/internal/ai"
	"gexbot/internal/config"
	"gexbot/internal/runtime/supervisor"
	"gexbot/internal/task/scheduler"
	logx "gexbot/pkg/logx"
)

// Start brings every service up under one supervisor and begins watching
// the config file. Fatal supervised errors cancel the context exposed by
// Done.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true),
	)

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return a.validateReload(cfg)
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.run.Start(a.sup.Context())
	if a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
	}
	a.registerJobs(a.cfgm.Get())

	a.pprof.Start(a.sup.Context())

	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

	// Event flow visibility at debug level. Components that act on events
	// subscribe themselves.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// validateReload rejects a config before commit so a bad edit never half
// applies. Syntactic checks live in config.Validate; these are the
// app-level ones: durations, timezone, schedule specs.
func (a *App) validateReload(cfg *config.Config) error {
	if _, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	if _, err := mapDispatch(cfg); err != nil {
		return err
	}
	if _, err := mapTracker(cfg); err != nil {
		return err
	}
	if _, err := monitorInterval(cfg); err != nil {
		return err
	}
	if _, err := mapRunner(cfg); err != nil {
		return err
	}
	if _, err := mapPprof(cfg); err != nil {
		return err
	}
	if _, err := mapStorage(cfg); err != nil {
		return err
	}
	if _, err := mapMarket(cfg); err != nil {
		return err
	}
	if _, _, err := mapAI(cfg); err != nil {
		return err
	}
	if _, _, err := mapEngine(cfg); err != nil {
		return err
	}
	for _, j := range []struct{ path, spec string }{
		{"jobs.morning_briefing", cfg.Jobs.MorningBriefing},
		{"jobs.evening_briefing", cfg.Jobs.EveningBriefing},
		{"jobs.sector_scan", cfg.Jobs.SectorScan},
	} {
		if strings.TrimSpace(j.spec) == "" {
			continue
		}
		if err := a.sched.ValidateSpec(j.spec); err != nil {
			return fmt.Errorf("%s: %w", j.path, err)
		}
	}
	return nil
}

// registerJobs upserts the recurring jobs from config. An empty schedule
// removes the job; registration also runs on reload, so every call must
// converge on exactly the configured set.
func (a *App) registerJobs(cfg *config.Config) {
	if cfg.Monitor.Enabled && len(cfg.Monitor.Watchlist) > 0 {
		every, err := monitorInterval(cfg)
		if err == nil {
			_, err = a.sched.AddInterval(config.JobScan, every, 0, a.scanner.Run)
		}
		if err != nil {
			a.log.Warn("scan schedule rejected", logx.Err(err))
		}
	} else {
		a.sched.Remove(config.JobScan)
	}

	jobs := []struct {
		name string
		spec string
		run  func(ctx context.Context) error
	}{
		{config.JobMorningBriefing, cfg.Jobs.MorningBriefing, a.briefs.Morning},
		{config.JobEveningBriefing, cfg.Jobs.EveningBriefing, a.briefs.Evening},
		{config.JobSectorScan, cfg.Jobs.SectorScan, a.briefs.SectorScan},
	}
	for _, j := range jobs {
		if strings.TrimSpace(j.spec) == "" {
			a.sched.Remove(j.name)
			continue
		}
		if _, err := a.sched.AddSchedule(j.name, j.spec, 0, j.run); err != nil {
			a.log.Warn("job schedule rejected",
				logx.String("job", j.name), logx.Err(err))
		}
	}
}

// reloadLoop applies validated config updates to the running services,
// coalescing bursts to the newest config.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			cfg = drainNewest(sub, cfg)
			a.applyReload(ctx, last, cfg)
			last = cfg
		}
	}
}

func drainNewest(sub chan *config.Config, cur *config.Config) *config.Config {
	for {
		select {
		case newer := <-sub:
			if newer != nil {
				cur = newer
			}
		default:
			return cur
		}
	}
}

// applyReload pushes one committed config into the running services.
// Sections that cannot change live (storage, engine, runner pool, market
// client endpoint, telegram token) get a restart-required warning instead
// of a half-applied state.
func (a *App) applyReload(ctx context.Context, old, cfg *config.Config) {
	sections, attrs, destChanged := config.SummarizeChange(old, cfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	changed := make(map[string]bool, len(sections))
	for _, s := range sections {
		changed[s] = true
	}

	// Logging first so everything after logs at the new level.
	if changed["logging"] {
		a.logs.Apply(mapLogging(cfg))
		a.logs.SetChatTarget(cfg.Logging.Chat.ChatID, cfg.Logging.Chat.ThreadID)
	}

	if changed["telegram"] {
		a.router.SetOwners(cfg.Telegram.OwnerUserIDs)
		if old.Telegram.TokenEnv != cfg.Telegram.TokenEnv ||
			strings.TrimSpace(old.Telegram.PollTimeout) != strings.TrimSpace(cfg.Telegram.PollTimeout) {
			a.log.Warn("telegram token/poll settings changed; restart required to take effect")
		}
	}

	// The owner fallback binding depends on the owner list, so bindings
	// re-apply on telegram changes too.
	if changed["dispatch"] || changed["destinations"] || changed["telegram"] {
		if dcfg, err := mapDispatch(cfg); err != nil {
			a.log.Warn("invalid dispatch config; keeping previous", logx.Err(err))
		} else {
			a.disp.Apply(dcfg, mapBindings(cfg), destChanged)
		}
	}

	if changed["monitor"] {
		if tcfg, err := mapTracker(cfg); err != nil {
			a.log.Warn("invalid tracker config; keeping previous", logx.Err(err))
		} else {
			a.tracker.Apply(tcfg)
		}
		a.scanner.Apply(mapScan(cfg))
		if holdEnabled(cfg) {
			a.hold.Apply(mapHold(cfg))
			a.scanner.SetHoldWatch(a.hold)
		} else {
			a.scanner.SetHoldWatch(nil)
		}
	}

	if changed["market"] {
		a.briefs.Apply(mapBriefing(cfg))
		if old.Market.BaseURL != cfg.Market.BaseURL || old.Market.Timeout != cfg.Market.Timeout {
			a.log.Warn("market endpoint changed; restart required to take effect")
		}
	}

	if changed["ai"] {
		if aiCfg, on, err := mapAI(cfg); err != nil {
			a.log.Warn("invalid ai config; keeping previous", logx.Err(err))
		} else if on {
			a.briefs.SetCompleter(ai.NewClient(aiCfg, a.log))
		} else {
			a.briefs.SetCompleter(nil)
		}
	}

	if changed["scheduler"] {
		prevEnabled := a.sched.Enabled()
		a.sched.Apply(scheduler.Config{
			Enabled:  cfg.Scheduler.Enabled,
			Timezone: cfg.Scheduler.Timezone,
		})
		switch {
		case prevEnabled && !cfg.Scheduler.Enabled:
			a.log.Info("scheduler disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.sched.Stop(stopCtx)
			cancel()
		case !prevEnabled && cfg.Scheduler.Enabled:
			a.log.Info("scheduler enabled via config")
			a.sched.Start(ctx)
		}
	}

	if changed["jobs"] || changed["monitor"] {
		a.registerJobs(cfg)
	}

	if changed["pprof"] {
		if pcfg, err := mapPprof(cfg); err != nil {
			a.log.Warn("invalid pprof config; keeping previous", logx.Err(err))
		} else {
			a.pprof.Apply(a.sup.Context(), pcfg)
		}
	}

	for _, section := range []string{"storage", "engine", "runner"} {
		if changed[section] {
			a.log.Warn("section requires restart to take effect", logx.String("section", section))
		}
	}

	a.log.Info("config reloaded", logx.String("changed", strings.Join(sections, ",")))
}
