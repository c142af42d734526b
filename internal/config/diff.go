package config

import (
	"reflect"
	"sort"
	"strings"

	logx "gexbot/pkg/logx"
)

// SummarizeChange returns (1) a compact list of changed sections, (2) safe
// structured attrs for logging (never tokens or API keys), and (3) the
// destination names whose binding changed, so the dispatcher can drop its
// cached resolutions for exactly those.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 20)

	// Telegram (never log the token)
	if strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		oldCfg.Telegram.TokenEnv != newCfg.Telegram.TokenEnv ||
		!reflect.DeepEqual(oldCfg.Telegram.OwnerUserIDs, newCfg.Telegram.OwnerUserIDs) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(newCfg.Telegram.PollTimeout)),
			logx.Int("telegram.owner_count", len(newCfg.Telegram.OwnerUserIDs)),
		)
	}

	// Logging
	if oldCfg.Logging.Level != newCfg.Logging.Level ||
		oldCfg.Logging.Console != newCfg.Logging.Console ||
		oldCfg.Logging.File != newCfg.Logging.File ||
		oldCfg.Logging.Chat != newCfg.Logging.Chat {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.chat_enabled", newCfg.Logging.Chat.Enabled),
		)
	}

	destChanged := diffDestinations(oldCfg.Destinations, newCfg.Destinations)
	if len(destChanged) > 0 {
		changed = append(changed, "destinations")
		attrs = append(attrs,
			logx.Int("destinations.changed_count", len(destChanged)),
			logx.Int("destinations.count", len(newCfg.Destinations)),
		)
	}

	if oldCfg.Dispatch != newCfg.Dispatch {
		changed = append(changed, "dispatch")
		attrs = append(attrs,
			logx.String("dispatch.min_gap", newCfg.Dispatch.MinGap),
			logx.Int("dispatch.owner_preview", newCfg.Dispatch.OwnerPreview),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	if derefRunner(oldCfg.Runner) != derefRunner(newCfg.Runner) {
		changed = append(changed, "runner")
		nr := derefRunner(newCfg.Runner)
		attrs = append(attrs,
			logx.Int("runner.workers", nr.Workers),
			logx.Int("runner.queue_size", nr.QueueSize),
			logx.String("runner.default_timeout", nr.DefaultTimeout),
		)
	}

	if oldCfg.Jobs != newCfg.Jobs {
		changed = append(changed, "jobs")
		attrs = append(attrs,
			logx.Bool("jobs.morning_set", newCfg.Jobs.MorningBriefing != ""),
			logx.Bool("jobs.evening_set", newCfg.Jobs.EveningBriefing != ""),
			logx.Bool("jobs.sector_scan_set", newCfg.Jobs.SectorScan != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Monitor, newCfg.Monitor) {
		changed = append(changed, "monitor")
		attrs = append(attrs,
			logx.Bool("monitor.enabled", newCfg.Monitor.Enabled),
			logx.Int("monitor.watchlist_count", len(newCfg.Monitor.Watchlist)),
			logx.String("monitor.interval", newCfg.Monitor.Interval),
			logx.String("monitor.cooldown", newCfg.Monitor.Cooldown),
			logx.Float64("monitor.flip_threshold", newCfg.Monitor.FlipThreshold),
		)
	}

	if !reflect.DeepEqual(oldCfg.Market, newCfg.Market) {
		changed = append(changed, "market")
		attrs = append(attrs,
			logx.Bool("market.base_url_set", strings.TrimSpace(newCfg.Market.BaseURL) != ""),
			logx.Int("market.index_count", len(newCfg.Market.Indexes)),
			logx.Int("market.sector_count", len(newCfg.Market.Sectors)),
		)
	}

	// AI (never log the key env's value; the env name is safe)
	if !reflect.DeepEqual(oldCfg.AI, newCfg.AI) {
		changed = append(changed, "ai")
		na := derefAI(newCfg.AI)
		attrs = append(attrs,
			logx.Bool("ai.enabled", na.Enabled),
			logx.String("ai.model", na.Model),
		)
	}

	if !reflect.DeepEqual(oldCfg.Engine, newCfg.Engine) {
		changed = append(changed, "engine")
		ne := derefEngine(newCfg.Engine)
		attrs = append(attrs,
			logx.Bool("engine.enabled", ne.Enabled),
			logx.Bool("engine.base_url_set", strings.TrimSpace(ne.BaseURL) != ""),
		)
	}

	// Storage: nil means disabled.
	var oDriver, nDriver string
	var oPathSet, nPathSet bool
	if s := oldCfg.Storage; s != nil {
		oDriver = strings.TrimSpace(s.Driver)
		oPathSet = strings.TrimSpace(s.Path) != ""
	}
	if s := newCfg.Storage; s != nil {
		nDriver = strings.TrimSpace(s.Driver)
		nPathSet = strings.TrimSpace(s.Path) != ""
	}
	if oDriver != nDriver || oPathSet != nPathSet {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPathSet),
		)
	}

	// Pprof (never log the token)
	if oldCfg.Pprof.Enabled != newCfg.Pprof.Enabled ||
		strings.TrimSpace(oldCfg.Pprof.Addr) != strings.TrimSpace(newCfg.Pprof.Addr) ||
		strings.TrimSpace(oldCfg.Pprof.Prefix) != strings.TrimSpace(newCfg.Pprof.Prefix) ||
		oldCfg.Pprof.AllowInsecure != newCfg.Pprof.AllowInsecure ||
		(strings.TrimSpace(oldCfg.Pprof.Token) != "") != (strings.TrimSpace(newCfg.Pprof.Token) != "") {
		changed = append(changed, "pprof")
		attrs = append(attrs,
			logx.Bool("pprof.enabled", newCfg.Pprof.Enabled),
			logx.String("pprof.addr", strings.TrimSpace(newCfg.Pprof.Addr)),
			logx.Bool("pprof.token_set", strings.TrimSpace(newCfg.Pprof.Token) != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs, destChanged
}

func derefRunner(r *RunnerConfig) RunnerConfig {
	if r == nil {
		return RunnerConfig{}
	}
	return *r
}

func derefAI(a *AIConfig) AIConfig {
	if a == nil {
		return AIConfig{}
	}
	return *a
}

func derefEngine(e *EngineConfig) EngineConfig {
	if e == nil {
		return EngineConfig{}
	}
	return *e
}

func diffDestinations(oldM, newM map[string]Destination) []string {
	set := map[string]struct{}{}
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for name := range set {
		o, oOK := oldM[name]
		n, nOK := newM[name]
		if oOK != nOK || o != n {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
