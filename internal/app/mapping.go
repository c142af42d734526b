package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gexbot/internal/ai"
	"gexbot/internal/briefing"
	"gexbot/internal/config"
	"gexbot/internal/dispatch"
	"gexbot/internal/market/yahoo"
	"gexbot/internal/monitor"
	"gexbot/internal/observability/pprof"
	"gexbot/internal/storage"
	"gexbot/internal/task/runner"
	"gexbot/internal/trading"
	logx "gexbot/pkg/logx"
)

// resolveToken returns the bot token. The env var named by token_env wins;
// the inline token is the development fallback.
func resolveToken(tc config.TelegramConfig) (string, error) {
	if env := strings.TrimSpace(tc.TokenEnv); env != "" {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			return v, nil
		}
	}
	if tok := strings.TrimSpace(tc.Token); tok != "" {
		return tok, nil
	}
	if strings.TrimSpace(tc.TokenEnv) != "" {
		return "", fmt.Errorf("telegram token: env %s is empty and no inline token set", tc.TokenEnv)
	}
	return "", fmt.Errorf("telegram token missing: set telegram.token_env or telegram.token")
}

func mapLogging(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File: logx.FileConfig{
			Enabled: lc.File.Enabled,
			Path:    lc.File.Path,
		},
		Chat: logx.ChatSinkConfig{
			Enabled:    lc.Chat.Enabled,
			ChatID:     lc.Chat.ChatID,
			ThreadID:   lc.Chat.ThreadID,
			MinLevel:   lc.Chat.MinLevel,
			RatePerSec: lc.Chat.RatePerSec,
		},
	}
}

func mapDispatch(cfg *config.Config) (dispatch.Config, error) {
	gap, err := config.ParseDurationOrDefault("dispatch.min_gap", cfg.Dispatch.MinGap, time.Second)
	if err != nil {
		return dispatch.Config{}, err
	}
	window, err := config.ParseDurationOrDefault("dispatch.owner_dedup_window", cfg.Dispatch.OwnerDedupWindow, 30*time.Minute)
	if err != nil {
		return dispatch.Config{}, err
	}
	return dispatch.Config{
		MinGap:           gap,
		OwnerDest:        config.DestOwner,
		OwnerPreview:     cfg.Dispatch.OwnerPreview,
		OwnerDedupWindow: window,
	}, nil
}

// mapBindings builds the destination table. An unbound owner destination
// falls back to the first owner user's DM so escalations always have
// somewhere to go.
func mapBindings(cfg *config.Config) map[string]dispatch.Binding {
	out := make(map[string]dispatch.Binding, len(cfg.Destinations)+1)
	for name, d := range cfg.Destinations {
		out[name] = dispatch.Binding{Chat: d.Chat, ThreadID: d.ThreadID}
	}
	if _, ok := out[config.DestOwner]; !ok && len(cfg.Telegram.OwnerUserIDs) > 0 {
		out[config.DestOwner] = dispatch.Binding{Chat: strconv.FormatInt(cfg.Telegram.OwnerUserIDs[0], 10)}
	}
	return out
}

func mapScan(cfg *config.Config) monitor.ScanConfig {
	return monitor.ScanConfig{
		Watchlist:    cfg.Monitor.Watchlist,
		Dest:         config.DestTrading,
		FailureLimit: cfg.Monitor.FailureLimit,
	}
}

func mapTracker(cfg *config.Config) (monitor.TrackerConfig, error) {
	cooldown, err := config.ParseDurationOrDefault("monitor.cooldown", cfg.Monitor.Cooldown, 2*time.Hour)
	if err != nil {
		return monitor.TrackerConfig{}, err
	}
	return monitor.TrackerConfig{
		FlipThreshold: cfg.Monitor.FlipThreshold,
		Cooldown:      cooldown,
	}, nil
}

func monitorInterval(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("monitor.interval", cfg.Monitor.Interval, 15*time.Minute)
}

func holdEnabled(cfg *config.Config) bool {
	return cfg.Monitor.BreakHold != nil && cfg.Monitor.BreakHold.Enabled
}

func mapHold(cfg *config.Config) monitor.HoldConfig {
	bh := cfg.Monitor.BreakHold
	if bh == nil {
		return monitor.HoldConfig{}
	}
	return monitor.HoldConfig{
		Interval: bh.Interval,
		Lookback: bh.Lookback,
		HoldBars: bh.HoldBars,
	}
}

// mapBriefing splits market.indexes into plain index symbols and the
// volatility symbol: the first "^"-prefixed entry becomes the VIX slot,
// later ones stay in the index list.
func mapBriefing(cfg *config.Config) briefing.Config {
	var indices []string
	var vix string
	for _, sym := range cfg.Market.Indexes {
		if vix == "" && strings.HasPrefix(sym, "^") {
			vix = sym
			continue
		}
		indices = append(indices, sym)
	}
	return briefing.Config{
		Indices:  indices,
		VIX:      vix,
		Sectors:  cfg.Market.Sectors,
		Dest:     config.DestGeneral,
		ScanDest: config.DestTrading,
	}
}

func mapRunner(cfg *config.Config) (runner.Config, error) {
	rc := runner.Config{DefaultTimeout: 2 * time.Minute}
	if cfg.Runner == nil {
		return rc, nil
	}
	r := cfg.Runner
	rc.Workers = r.Workers
	rc.QueueSize = r.QueueSize
	rc.HistorySize = r.HistorySize
	d, err := config.ParseDurationOrDefault("runner.default_timeout", r.DefaultTimeout, rc.DefaultTimeout)
	if err != nil {
		return runner.Config{}, err
	}
	rc.DefaultTimeout = d
	return rc, nil
}

func mapPprof(cfg *config.Config) (pprof.Config, error) {
	pc := cfg.Pprof
	rt, err := config.ParseDurationField("pprof.read_timeout", pc.ReadTimeout)
	if err != nil {
		return pprof.Config{}, err
	}
	wt, err := config.ParseDurationField("pprof.write_timeout", pc.WriteTimeout)
	if err != nil {
		return pprof.Config{}, err
	}
	it, err := config.ParseDurationField("pprof.idle_timeout", pc.IdleTimeout)
	if err != nil {
		return pprof.Config{}, err
	}
	return pprof.Config{
		Enabled:       pc.Enabled,
		Addr:          pc.Addr,
		Prefix:        pc.Prefix,
		Token:         pc.Token,
		AllowInsecure: pc.AllowInsecure,
		ReadTimeout:   rt,
		WriteTimeout:  wt,
		IdleTimeout:   it,
	}, nil
}

// mapStorage returns the zero Config when the section is omitted, which
// storage.Open treats as disabled.
func mapStorage(cfg *config.Config) (storage.Config, error) {
	if cfg.Storage == nil {
		return storage.Config{}, nil
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, nil
}

func mapMarket(cfg *config.Config) (yahoo.Config, error) {
	timeout, err := config.ParseDurationField("market.timeout", cfg.Market.Timeout)
	if err != nil {
		return yahoo.Config{}, err
	}
	return yahoo.Config{BaseURL: cfg.Market.BaseURL, Timeout: timeout}, nil
}

// mapAI reports enabled=false when the section is omitted or off. The API
// key is read from the env var named by key_env; an empty key is allowed
// and surfaces later as ErrNotConfigured.
func mapAI(cfg *config.Config) (ai.Config, bool, error) {
	ac := cfg.AI
	if ac == nil || !ac.Enabled {
		return ai.Config{}, false, nil
	}
	timeout, err := config.ParseDurationField("ai.timeout", ac.Timeout)
	if err != nil {
		return ai.Config{}, false, err
	}
	var key string
	if env := strings.TrimSpace(ac.KeyEnv); env != "" {
		key = strings.TrimSpace(os.Getenv(env))
	}
	return ai.Config{
		BaseURL:   ac.BaseURL,
		Model:     ac.Model,
		APIKey:    key,
		Timeout:   timeout,
		MaxTokens: ac.MaxTokens,
	}, true, nil
}

func mapEngine(cfg *config.Config) (trading.Config, bool, error) {
	ec := cfg.Engine
	if ec == nil || !ec.Enabled {
		return trading.Config{}, false, nil
	}
	if strings.TrimSpace(ec.BaseURL) == "" {
		return trading.Config{}, false, fmt.Errorf("engine.base_url is required when engine.enabled is true")
	}
	timeout, err := config.ParseDurationField("engine.timeout", ec.Timeout)
	if err != nil {
		return trading.Config{}, false, err
	}
	return trading.Config{BaseURL: ec.BaseURL, Timeout: timeout}, true, nil
}
