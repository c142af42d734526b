package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gexbot/internal/market"
	"gexbot/internal/market/gex"
	"gexbot/pkg/logx"
)

// CandleSource supplies short-interval bars for break confirmation.
type CandleSource interface {
	History(ctx context.Context, symbol, interval, window string) ([]market.Candle, error)
}

// HoldConfig configures the break-and-hold overlay.
type HoldConfig struct {
	// Interval is the bar size requested from the source. Default "5m".
	Interval string

	// Window is the history range requested. Default "1d".
	Window string

	// Lookback caps how many of the newest bars are considered. A cross
	// older than Lookback bars falls outside the window and counts as a
	// standing condition, not a break. Default 12.
	Lookback int

	// HoldBars is how many consecutive closes beyond a wall confirm the
	// break. Default 3.
	HoldBars int
}

func (c HoldConfig) normalize() HoldConfig {
	if c.Interval == "" {
		c.Interval = "5m"
	}
	if c.Window == "" {
		c.Window = "1d"
	}
	if c.Lookback <= 0 {
		c.Lookback = 12
	}
	if c.HoldBars <= 0 {
		c.HoldBars = 3
	}
	return c
}

type breakResult struct {
	above     bool
	level     float64
	bars      int
	lastClose float64
}

// HoldWatch confirms wall breaks: a wall is broken-and-held when a close
// crosses beyond it and the closes stay beyond for at least HoldBars
// bars. Each confirmed break alerts once; the gate resets when price
// comes back inside the wall.
type HoldWatch struct {
	cfg  HoldConfig
	src  CandleSource
	post Poster
	log  logx.Logger

	mu    sync.Mutex
	fired map[string]string // symbol+direction -> wall level key
}

func NewHoldWatch(cfg HoldConfig, src CandleSource, post Poster, log logx.Logger) *HoldWatch {
	return &HoldWatch{
		cfg:   cfg.normalize(),
		src:   src,
		post:  post,
		log:   log,
		fired: make(map[string]string),
	}
}

// Apply swaps the overlay settings. The fired gates survive, so a reload
// never re-alerts a standing break.
func (h *HoldWatch) Apply(cfg HoldConfig) {
	cfg = cfg.normalize()
	h.mu.Lock()
	h.cfg = cfg
	h.mu.Unlock()
}

func (h *HoldWatch) snapshot() HoldConfig {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cfg
}

// Check evaluates both walls for one symbol. Overlay problems never
// propagate: a missing or unconfigured candle source is silent, anything
// else is logged and swallowed.
func (h *HoldWatch) Check(ctx context.Context, symbol string, sum gex.Summary, dest string) {
	if h.src == nil {
		return
	}
	cfg := h.snapshot()
	candles, err := h.src.History(ctx, symbol, cfg.Interval, cfg.Window)
	if err != nil {
		if errors.Is(err, market.ErrNotConfigured) || errors.Is(err, market.ErrNoData) {
			return
		}
		h.log.Warn("hold watch history failed",
			logx.String("symbol", symbol),
			logx.Err(err))
		return
	}
	closes := make([]float64, 0, len(candles))
	for _, c := range candles {
		closes = append(closes, c.Close)
	}
	if n := cfg.Lookback; len(closes) > n {
		closes = closes[len(closes)-n:]
	}

	if sum.Walls.CallWall > 0 {
		h.evaluate(ctx, symbol, dest, closes, sum.Walls.CallWall, true, cfg.HoldBars)
	}
	if sum.Walls.PutWall > 0 {
		h.evaluate(ctx, symbol, dest, closes, sum.Walls.PutWall, false, cfg.HoldBars)
	}
}

func (h *HoldWatch) evaluate(ctx context.Context, symbol, dest string, closes []float64, level float64, above bool, holdBars int) {
	dir := "put"
	if above {
		dir = "call"
	}
	key := symbol + ":" + dir
	levelKey := fmt.Sprintf("%.4f", level)

	if !brokeAndHeld(closes, level, above, holdBars) {
		h.mu.Lock()
		delete(h.fired, key)
		h.mu.Unlock()
		return
	}

	h.mu.Lock()
	already := h.fired[key] == levelKey
	if !already {
		h.fired[key] = levelKey
	}
	h.mu.Unlock()
	if already {
		return
	}

	br := breakResult{
		above:     above,
		level:     level,
		bars:      holdBars,
		lastClose: closes[len(closes)-1],
	}
	h.log.Info("wall break held",
		logx.String("symbol", symbol),
		logx.String("wall", dir),
		logx.Float64("level", level),
		logx.Float64("close", br.lastClose))
	h.post.Post(ctx, dest, holdText(symbol, br))
}

// brokeAndHeld reports whether the closes end in a run of at least
// holdBars values beyond level, with the close right before that run
// inside it. The cross has to be inside the window: a price that was
// beyond for every close in the window is a standing condition, not a
// break.
func brokeAndHeld(closes []float64, level float64, above bool, holdBars int) bool {
	if len(closes) < holdBars+1 {
		return false
	}
	beyond := func(v float64) bool {
		if above {
			return v > level
		}
		return v < level
	}
	run := 0
	for i := len(closes) - 1; i >= 0 && beyond(closes[i]); i-- {
		run++
	}
	return run >= holdBars && run < len(closes)
}
