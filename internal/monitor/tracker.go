package monitor

import (
	"math"
	"sync"
	"time"
)

// Observation is one scan cycle's fresh analyzer read for a symbol.
type Observation struct {
	FlipLevel      *float64
	RegimeLabel    string
	ReferencePrice float64
}

// State is the tracked baseline for a symbol. The first observation
// becomes the baseline without alerting; later cycles compare against
// the previous cycle's values, alerted or not.
type State struct {
	FlipLevel      *float64
	RegimeLabel    string
	ReferencePrice float64
	LastAlert      time.Time
	FirstSeen      time.Time
	Cycles         int
}

// Decision reports what the tracker concluded for one observation.
type Decision struct {
	// First is set when the symbol had no prior state. Baselines never alert.
	First bool

	// Alert is set when a change was detected and the cooldown had elapsed.
	Alert bool

	// Suppressed is set when a change was detected inside the cooldown
	// window. The state still advances to the new values.
	Suppressed bool

	RegimeChanged bool
	FlipMoved     bool

	PrevRegime string
	PrevFlip   *float64
}

// TrackerConfig tunes the hysteresis. Zero values take the defaults.
type TrackerConfig struct {
	// FlipThreshold is the relative flip-level move that counts as a
	// change, as a fraction. Default 0.02.
	FlipThreshold float64

	// Cooldown is the minimum spacing between alerts for one symbol.
	// Default 2h.
	Cooldown time.Duration
}

func (c TrackerConfig) normalize() TrackerConfig {
	if c.FlipThreshold <= 0 {
		c.FlipThreshold = 0.02
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 2 * time.Hour
	}
	return c
}

// Tracker keeps per-symbol regime state and applies the alert hysteresis.
// Safe for concurrent use.
type Tracker struct {
	mu     sync.Mutex
	cfg    TrackerConfig
	states map[string]*State
}

func NewTracker(cfg TrackerConfig) *Tracker {
	return &Tracker{
		cfg:    cfg.normalize(),
		states: make(map[string]*State),
	}
}

// Observe folds one observation into the symbol's state and decides
// whether it warrants an alert. The compare-and-update is atomic per
// symbol: state always advances to the observed values, and LastAlert
// moves only when an alert actually fires.
func (t *Tracker) Observe(symbol string, obs Observation, now time.Time) Decision {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.states[symbol]
	if !ok {
		t.states[symbol] = &State{
			FlipLevel:      cloneFlip(obs.FlipLevel),
			RegimeLabel:    obs.RegimeLabel,
			ReferencePrice: obs.ReferencePrice,
			FirstSeen:      now,
			Cycles:         1,
		}
		return Decision{First: true}
	}

	d := Decision{
		PrevRegime: st.RegimeLabel,
		PrevFlip:   cloneFlip(st.FlipLevel),
	}
	d.RegimeChanged = obs.RegimeLabel != st.RegimeLabel
	if st.FlipLevel != nil && obs.FlipLevel != nil && *st.FlipLevel != 0 {
		move := math.Abs(*st.FlipLevel-*obs.FlipLevel) / math.Abs(*st.FlipLevel)
		d.FlipMoved = move > t.cfg.FlipThreshold
	}

	if d.RegimeChanged || d.FlipMoved {
		if now.Sub(st.LastAlert) > t.cfg.Cooldown {
			d.Alert = true
			st.LastAlert = now
		} else {
			d.Suppressed = true
		}
	}

	st.FlipLevel = cloneFlip(obs.FlipLevel)
	st.RegimeLabel = obs.RegimeLabel
	st.ReferencePrice = obs.ReferencePrice
	st.Cycles++
	return d
}

// Apply swaps the hysteresis settings. Per-symbol state is untouched, so
// a loosened threshold takes effect on the next observation.
func (t *Tracker) Apply(cfg TrackerConfig) {
	cfg = cfg.normalize()
	t.mu.Lock()
	t.cfg = cfg
	t.mu.Unlock()
}

// States returns a copy of all tracked states keyed by symbol.
func (t *Tracker) States() map[string]State {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]State, len(t.states))
	for sym, st := range t.states {
		cp := *st
		cp.FlipLevel = cloneFlip(st.FlipLevel)
		out[sym] = cp
	}
	return out
}

// Prune drops state for symbols no longer on the watchlist so a
// re-added symbol baselines fresh instead of alerting against stale data.
func (t *Tracker) Prune(active []string) {
	keep := make(map[string]struct{}, len(active))
	for _, sym := range active {
		keep[sym] = struct{}{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for sym := range t.states {
		if _, ok := keep[sym]; !ok {
			delete(t.states, sym)
		}
	}
}

func cloneFlip(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
