package config

// Config is the single YAML file gexbot is driven by. Durations are Go
// duration strings ("90s", "15m", "2h"); schedules are five-field cron
// expressions or "HH:MM" dailies. Unknown keys fail the parse.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`

	// Destinations maps logical channel names to chats. The bot posts by
	// name ("trading", "general", "owner"); bindings here say where those
	// names live right now.
	Destinations map[string]Destination `json:"destinations"`

	Dispatch  DispatchConfig  `json:"dispatch"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Runner    *RunnerConfig   `json:"runner,omitempty"`
	Jobs      JobsConfig      `json:"jobs"`
	Monitor   MonitorConfig   `json:"monitor"`
	Market    MarketConfig    `json:"market"`

	AI      *AIConfig      `json:"ai,omitempty"`
	Engine  *EngineConfig  `json:"engine,omitempty"`
	Storage *StorageConfig `json:"storage,omitempty"`
	Pprof   PprofConfig    `json:"pprof,omitempty"`
}

type TelegramConfig struct {
	// TokenEnv names the environment variable holding the bot token.
	// Token is an inline fallback for development setups; prefer the env.
	TokenEnv     string  `json:"token_env,omitempty"`
	Token        string  `json:"token,omitempty"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	PollTimeout  string  `json:"poll_timeout,omitempty"`
}

// Destination binds a logical name to a chat: a numeric chat ID
// ("-1001234567890") or a public username ("@gexbot_trading"). Username
// bindings survive chat recreation; numeric ones are faster but go stale
// if the chat is recreated.
type Destination struct {
	Chat     string `json:"chat"`
	ThreadID int    `json:"thread_id,omitempty"`
}

type DispatchConfig struct {
	// MinGap is the minimum spacing between two sends to the same
	// destination. Default "1s".
	MinGap string `json:"min_gap,omitempty"`

	// OwnerPreview caps how many characters of a failed message are quoted
	// in the owner notification. Default 160.
	OwnerPreview int `json:"owner_preview,omitempty"`

	// OwnerDedupWindow suppresses repeated identical owner notifications
	// within the window. Default "30m".
	OwnerDedupWindow string `json:"owner_dedup_window,omitempty"`
}

type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
	// Timezone for cron evaluation, e.g. "America/New_York".
	Timezone string `json:"timezone,omitempty"`
}

// RunnerConfig controls the task execution pool. Defaults when omitted:
// workers 2, queue_size 64, default_timeout "2m", history_size 100.
type RunnerConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
}

// JobsConfig holds the recurring job schedules. Each value is a cron
// expression ("30 8 * * 1-5") or a daily time ("08:30"). Empty disables
// that job.
type JobsConfig struct {
	MorningBriefing string `json:"morning_briefing,omitempty"`
	EveningBriefing string `json:"evening_briefing,omitempty"`
	SectorScan      string `json:"sector_scan,omitempty"`
}

// MonitorConfig drives the GEX regime monitor.
type MonitorConfig struct {
	Enabled   bool     `json:"enabled"`
	Watchlist []string `json:"watchlist"`

	// Interval between scan cycles. Default "15m".
	Interval string `json:"interval,omitempty"`

	// FlipThreshold is the relative flip-level move that counts as
	// alert-worthy. Default 0.02 (2%).
	FlipThreshold float64 `json:"flip_threshold,omitempty"`

	// Cooldown is the minimum time between two alerts for the same symbol.
	// Default "2h".
	Cooldown string `json:"cooldown,omitempty"`

	// FailureLimit aborts a scan cycle after this many consecutive analyzer
	// failures. Default 3.
	FailureLimit int `json:"failure_limit,omitempty"`

	BreakHold *BreakHoldConfig `json:"break_hold,omitempty"`
}

// BreakHoldConfig tunes the break-and-hold overlay: price must close beyond
// a wall level for hold_bars consecutive short-interval candles.
type BreakHoldConfig struct {
	Enabled  bool   `json:"enabled"`
	Interval string `json:"interval,omitempty"`  // candle interval, default "5m"
	Lookback int    `json:"lookback,omitempty"`  // candles fetched, default 12
	HoldBars int    `json:"hold_bars,omitempty"` // default 3
}

type MarketConfig struct {
	BaseURL string `json:"base_url,omitempty"`
	Timeout string `json:"timeout,omitempty"`

	// Indexes are the tickers quoted in briefings. Sectors are the ETFs
	// ranked by the sector scan.
	Indexes []string `json:"indexes,omitempty"`
	Sectors []string `json:"sectors,omitempty"`
}

// AIConfig points at an OpenAI-compatible completions endpoint used for
// briefing commentary. Omit the section (or set enabled: false) to run
// without commentary.
type AIConfig struct {
	Enabled   bool   `json:"enabled"`
	BaseURL   string `json:"base_url,omitempty"`
	Model     string `json:"model,omitempty"`
	KeyEnv    string `json:"key_env,omitempty"`
	Timeout   string `json:"timeout,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

// EngineConfig points at the paper-trading engine service whose halt
// endpoint the emergency stop invokes. Omit to run without an engine.
type EngineConfig struct {
	Enabled bool   `json:"enabled"`
	BaseURL string `json:"base_url,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

// StorageConfig controls the audit/dedup store.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./gexbot_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// PprofConfig controls the optional pprof HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly
//     allow_insecure.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default: "127.0.0.1:6060"
	Prefix        string `json:"prefix,omitempty"` // default: "/debug/pprof/"
	Token         string `json:"token,omitempty"`  // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// Server timeouts (Go duration strings). WriteTimeout defaults to 0
	// (disabled) so /profile, which can take 30s+, works reliably.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingChat mirrors warn+ log lines into an operator chat.
type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id,omitempty"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// Destination names with fixed meaning. Trading carries scans and regime
// alerts, General carries briefings, Owner carries escalations (falls back
// to the first owner user's DM when unbound).
const (
	DestTrading = "trading"
	DestGeneral = "general"
	DestOwner   = "owner"
)

// Schedule names jobs are registered under. Chat commands trigger ad-hoc
// runs by these names.
const (
	JobScan            = "gex-scan"
	JobMorningBriefing = "morning-briefing"
	JobEveningBriefing = "evening-briefing"
	JobSectorScan      = "sector-scan"
)
