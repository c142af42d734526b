// Package app assembles the bot: config, logging, storage, transport,
// market analysis, scheduling, dispatch, and the operator command surface,
// started and stopped as one unit.
package app

import (
	"context"
	"time"

	"gexbot/internal/ai"
	"gexbot/internal/briefing"
	"gexbot/internal/config"
	"gexbot/internal/dispatch"
	"gexbot/internal/eventbus"
	"gexbot/internal/halt"
	"gexbot/internal/market"
	"gexbot/internal/market/gex"
	"gexbot/internal/market/yahoo"
	"gexbot/internal/monitor"
	"gexbot/internal/observability/pprof"
	"gexbot/internal/runtime/supervisor"
	"gexbot/internal/storage"
	"gexbot/internal/task/runner"
	"gexbot/internal/task/scheduler"
	"gexbot/internal/trading"
	kit "gexbot/internal/transport"
	telegram "gexbot/internal/transport/telegram/adapter"
	"gexbot/internal/transport/telegram/router"
	"gexbot/pkg/chatui"
	logx "gexbot/pkg/logx"
)

// StopReason tags why the app is shutting down, for the final log line.
type StopReason string

const (
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal-error"
)

// confirmTTL bounds how long a /halt confirmation button stays valid.
const confirmTTL = 2 * time.Minute

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *telegram.Adapter
	disp    *dispatch.Dispatcher

	tracker *monitor.Tracker
	scanner *monitor.Scanner
	hold    *monitor.HoldWatch
	briefs  *briefing.Service
	stopper *halt.Coordinator

	run    *runner.Runner
	sched  *scheduler.Service
	router *router.Router
	pprof  *pprof.Service

	updates chan kit.Update
}

// New loads config and builds every component, wired but not running.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogging(cfg))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	storageCfg, err := mapStorage(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storageCfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	if store != nil {
		log.Info("storage enabled", logx.String("driver", storageCfg.Driver))
	}

	token, err := resolveToken(cfg.Telegram)
	if err != nil {
		return nil, err
	}
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	dispCfg, err := mapDispatch(cfg)
	if err != nil {
		return nil, err
	}
	disp := dispatch.New(dispCfg, ad, log, bus)
	disp.SetResolver(ad)
	disp.SetStore(store)
	disp.SetBindings(mapBindings(cfg))

	// Warn+ log lines mirror into the operator chat through the same
	// adapter the bot sends everything else with.
	logSvc.SetChatSink(func(ctx context.Context, chatID int64, threadID int, text string) error {
		_, err := ad.SendText(ctx, kit.ChatTarget{ChatID: chatID, ThreadID: threadID}, text, nil)
		return err
	})

	marketCfg, err := mapMarket(cfg)
	if err != nil {
		return nil, err
	}
	quotes := yahoo.New(marketCfg, log)
	fetcher := market.NewContextBuilder(quotes, log.With(logx.String("comp", "market")))
	analyzer := gex.NewAnalyzer(quotes, log.With(logx.String("comp", "gex")))

	trackerCfg, err := mapTracker(cfg)
	if err != nil {
		return nil, err
	}
	tracker := monitor.NewTracker(trackerCfg)
	scanner := monitor.NewScanner(mapScan(cfg), analyzer, tracker, disp, log.With(logx.String("comp", "monitor")), bus)
	scanner.SetStore(store)

	// The overlay is always built so a reload can attach it later; it is
	// only attached (and therefore consulted) while enabled.
	hold := monitor.NewHoldWatch(mapHold(cfg), quotes, disp, log.With(logx.String("comp", "holdwatch")))
	if holdEnabled(cfg) {
		scanner.SetHoldWatch(hold)
	}

	briefs := briefing.New(mapBriefing(cfg), fetcher, quotes, disp, log.With(logx.String("comp", "briefing")))
	briefs.SetStore(store)
	if aiCfg, on, err := mapAI(cfg); err != nil {
		return nil, err
	} else if on {
		briefs.SetCompleter(ai.NewClient(aiCfg, log))
	}

	var engine trading.Engine = trading.Noop{}
	if engCfg, on, err := mapEngine(cfg); err != nil {
		return nil, err
	} else if on {
		engine = trading.NewHTTP(engCfg, log)
	}

	runnerCfg, err := mapRunner(cfg)
	if err != nil {
		return nil, err
	}
	run := runner.New(runnerCfg, log.With(logx.String("comp", "runner")), bus)
	run.SetStore(store)
	sched := scheduler.New(scheduler.Config{
		Enabled:  cfg.Scheduler.Enabled,
		Timezone: cfg.Scheduler.Timezone,
	}, run, log.With(logx.String("comp", "scheduler")), bus)

	// The halted flag must gate sends before the stop notification goes
	// out, so the dispatcher learns about it from the scheduler directly.
	disp.SetHalted(sched.Halted)

	stopper := halt.New(halt.Config{Dest: config.DestTrading}, sched, engine, disp,
		log.With(logx.String("comp", "halt")), bus)
	stopper.SetStore(store)

	rt := router.New(log.With(logx.String("comp", "router")), ad, cfgm.Get, cfg.Telegram.OwnerUserIDs)
	rt.SetStore(store)
	cmds, cbs := router.OpsCommands(router.Deps{
		Scheduler: sched,
		Tracker:   tracker,
		Dispatch:  disp,
		Stopper:   stopper,
		Store:     store,
		Tokens:    chatui.NewTokenStore(confirmTTL),
		StartedAt: time.Now(),
	})
	rt.Register(cmds, cbs)

	pprofCfg, err := mapPprof(cfg)
	if err != nil {
		return nil, err
	}
	pprofSvc := pprof.New(pprofCfg, log.With(logx.String("comp", "pprof")))

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		disp:    disp,
		tracker: tracker,
		scanner: scanner,
		hold:    hold,
		briefs:  briefs,
		stopper: stopper,
		run:     run,
		sched:   sched,
		router:  rt,
		pprof:   pprofSvc,
		updates: make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app context ends: fatal supervised error or Stop.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}
