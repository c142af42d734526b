package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Normalize fills defaults in place. Call after a successful Parse and
// before Validate.
func (c *Config) Normalize() {
	if c.Telegram.PollTimeout == "" {
		c.Telegram.PollTimeout = "10s"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Chat.MinLevel == "" {
		c.Logging.Chat.MinLevel = "warn"
	}
	if c.Logging.Chat.RatePerSec <= 0 {
		c.Logging.Chat.RatePerSec = 1
	}
	if c.Dispatch.MinGap == "" {
		c.Dispatch.MinGap = "1s"
	}
	if c.Dispatch.OwnerPreview <= 0 {
		c.Dispatch.OwnerPreview = 160
	}
	if c.Dispatch.OwnerDedupWindow == "" {
		c.Dispatch.OwnerDedupWindow = "30m"
	}
	if c.Monitor.Interval == "" {
		c.Monitor.Interval = "15m"
	}
	if c.Monitor.FlipThreshold <= 0 {
		c.Monitor.FlipThreshold = 0.02
	}
	if c.Monitor.Cooldown == "" {
		c.Monitor.Cooldown = "2h"
	}
	if c.Monitor.FailureLimit <= 0 {
		c.Monitor.FailureLimit = 3
	}
	if bh := c.Monitor.BreakHold; bh != nil {
		if bh.Interval == "" {
			bh.Interval = "5m"
		}
		if bh.Lookback <= 0 {
			bh.Lookback = 12
		}
		if bh.HoldBars <= 0 {
			bh.HoldBars = 3
		}
	}
	if c.Market.Timeout == "" {
		c.Market.Timeout = "15s"
	}
	if len(c.Market.Indexes) == 0 {
		c.Market.Indexes = []string{"SPY", "QQQ", "IWM", "^VIX"}
	}
	if len(c.Market.Sectors) == 0 {
		c.Market.Sectors = []string{"XLK", "XLF", "XLE", "XLV", "XLI", "XLP", "XLY", "XLU", "XLB", "XLRE", "XLC"}
	}
	if r := c.Runner; r != nil {
		if r.Workers <= 0 {
			r.Workers = 2
		}
		if r.QueueSize <= 0 {
			r.QueueSize = 64
		}
		if r.DefaultTimeout == "" {
			r.DefaultTimeout = "2m"
		}
		if r.HistorySize <= 0 {
			r.HistorySize = 100
		}
	}
	if a := c.AI; a != nil && a.Enabled {
		if a.Timeout == "" {
			a.Timeout = "30s"
		}
		if a.MaxTokens <= 0 {
			a.MaxTokens = 400
		}
	}
	if e := c.Engine; e != nil && e.Enabled {
		if e.Timeout == "" {
			e.Timeout = "10s"
		}
	}
	if s := c.Storage; s != nil {
		if s.Driver == "" {
			s.Driver = "file"
		}
		if s.BusyTimeout == "" {
			s.BusyTimeout = "5s"
		}
	}
	if c.Pprof.Enabled {
		if c.Pprof.Addr == "" {
			c.Pprof.Addr = "127.0.0.1:6060"
		}
		if c.Pprof.Prefix == "" {
			c.Pprof.Prefix = "/debug/pprof/"
		}
	}
	for i, s := range c.Monitor.Watchlist {
		c.Monitor.Watchlist[i] = strings.ToUpper(strings.TrimSpace(s))
	}
}

// Validate checks the config syntactically: required fields, parseable
// durations and timezones, sane bindings. It is fast and does no I/O, so
// the reload validator can call it on every file change.
func (c *Config) Validate() error {
	if c.Telegram.TokenEnv == "" && c.Telegram.Token == "" {
		return fmt.Errorf("telegram: token_env or token is required")
	}
	if len(c.Telegram.OwnerUserIDs) == 0 {
		return fmt.Errorf("telegram: owner_user_ids must name at least one user")
	}
	if err := checkDuration("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		return err
	}
	if err := checkDuration("dispatch.min_gap", c.Dispatch.MinGap); err != nil {
		return err
	}
	if err := checkDuration("dispatch.owner_dedup_window", c.Dispatch.OwnerDedupWindow); err != nil {
		return err
	}

	for name, d := range c.Destinations {
		if strings.TrimSpace(d.Chat) == "" {
			return fmt.Errorf("destinations.%s: chat is required", name)
		}
		if err := checkChatRef(name, d.Chat); err != nil {
			return err
		}
	}
	if c.Monitor.Enabled || c.Jobs.SectorScan != "" {
		if _, ok := c.Destinations[DestTrading]; !ok {
			return fmt.Errorf("destinations: %q binding is required while the monitor or sector scan is enabled", DestTrading)
		}
	}
	if c.Jobs.MorningBriefing != "" || c.Jobs.EveningBriefing != "" {
		if _, ok := c.Destinations[DestGeneral]; !ok {
			return fmt.Errorf("destinations: %q binding is required while briefings are scheduled", DestGeneral)
		}
	}

	if c.Scheduler.Timezone != "" {
		if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
	}

	if c.Monitor.Enabled {
		if len(c.Monitor.Watchlist) == 0 {
			return fmt.Errorf("monitor: watchlist must name at least one symbol")
		}
		if err := checkDuration("monitor.interval", c.Monitor.Interval); err != nil {
			return err
		}
		if d, _ := time.ParseDuration(c.Monitor.Interval); d < time.Second {
			return fmt.Errorf("monitor.interval: must be at least 1s")
		}
		if err := checkDuration("monitor.cooldown", c.Monitor.Cooldown); err != nil {
			return err
		}
		if c.Monitor.FlipThreshold <= 0 || c.Monitor.FlipThreshold >= 1 {
			return fmt.Errorf("monitor.flip_threshold: must be in (0, 1), got %v", c.Monitor.FlipThreshold)
		}
		if bh := c.Monitor.BreakHold; bh != nil && bh.Enabled {
			if err := checkDuration("monitor.break_hold.interval", bh.Interval); err != nil {
				return err
			}
			// The bar preceding the hold run must also fall inside the
			// lookback, so hold_bars == lookback can never confirm.
			if bh.HoldBars >= bh.Lookback {
				return fmt.Errorf("monitor.break_hold: hold_bars %d must be below lookback %d", bh.HoldBars, bh.Lookback)
			}
		}
	}

	if err := checkDuration("market.timeout", c.Market.Timeout); err != nil {
		return err
	}
	if r := c.Runner; r != nil {
		if err := checkDuration("runner.default_timeout", r.DefaultTimeout); err != nil {
			return err
		}
	}
	if a := c.AI; a != nil && a.Enabled {
		if a.BaseURL == "" {
			return fmt.Errorf("ai: base_url is required when enabled")
		}
		if a.Model == "" {
			return fmt.Errorf("ai: model is required when enabled")
		}
		if err := checkDuration("ai.timeout", a.Timeout); err != nil {
			return err
		}
	}
	if e := c.Engine; e != nil && e.Enabled {
		if e.BaseURL == "" {
			return fmt.Errorf("engine: base_url is required when enabled")
		}
		if err := checkDuration("engine.timeout", e.Timeout); err != nil {
			return err
		}
	}
	if s := c.Storage; s != nil {
		switch s.Driver {
		case "file", "sqlite":
		default:
			return fmt.Errorf("storage.driver: unknown driver %q (supported: file, sqlite)", s.Driver)
		}
		if s.Path == "" {
			return fmt.Errorf("storage.path: required")
		}
		if err := checkDuration("storage.busy_timeout", s.BusyTimeout); err != nil {
			return err
		}
	}
	if c.Pprof.Enabled {
		if !isLoopbackAddr(c.Pprof.Addr) && c.Pprof.Token == "" && !c.Pprof.AllowInsecure {
			return fmt.Errorf("pprof.addr: non-loopback bind %q needs a token or allow_insecure", c.Pprof.Addr)
		}
		for _, f := range [][2]string{
			{"pprof.read_timeout", c.Pprof.ReadTimeout},
			{"pprof.write_timeout", c.Pprof.WriteTimeout},
			{"pprof.idle_timeout", c.Pprof.IdleTimeout},
		} {
			if err := checkDuration(f[0], f[1]); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkDuration(field, s string) error {
	if s == "" {
		return nil
	}
	if _, err := time.ParseDuration(s); err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	return nil
}

// checkChatRef accepts a numeric chat ID or an @username of length >= 5.
func checkChatRef(name, ref string) error {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(ref, "@") {
		if len(ref) < 6 {
			return fmt.Errorf("destinations.%s: username %q too short", name, ref)
		}
		return nil
	}
	if _, err := strconv.ParseInt(ref, 10, 64); err != nil {
		return fmt.Errorf("destinations.%s: chat must be a numeric ID or @username, got %q", name, ref)
	}
	return nil
}

func isLoopbackAddr(addr string) bool {
	host := addr
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		host = addr[:i]
	}
	switch host {
	case "127.0.0.1", "::1", "[::1]", "localhost", "":
		return true
	}
	return strings.HasPrefix(host, "127.")
}
