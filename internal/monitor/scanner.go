package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"gexbot/internal/eventbus"
	"gexbot/internal/market"
	"gexbot/internal/market/gex"
	"gexbot/internal/storage"
	"gexbot/pkg/logx"
)

// Analyzer produces a GEX summary for one symbol.
type Analyzer interface {
	Analyze(ctx context.Context, symbol string) (gex.Summary, error)
}

// Poster sends alert content to a named destination.
type Poster interface {
	Post(ctx context.Context, dest, content string)
}

// ScanConfig configures one scanner. Zero values take the defaults.
type ScanConfig struct {
	// Watchlist is the ordered list of symbols each cycle walks.
	Watchlist []string

	// Dest is the destination name alerts are posted to.
	Dest string

	// FailureLimit aborts the cycle after this many consecutive symbol
	// failures. Default 3.
	FailureLimit int
}

func (c ScanConfig) normalize() ScanConfig {
	if c.FailureLimit <= 0 {
		c.FailureLimit = 3
	}
	if c.Dest == "" {
		c.Dest = "trading"
	}
	return c
}

// AlertEvent is the bus payload for TypeRegimeAlert.
type AlertEvent struct {
	Symbol     string
	Regime     string
	PrevRegime string
	FlipLevel  *float64
}

// Scanner runs one watchlist pass per invocation: analyze each symbol in
// order, fold the result into the tracker, and post whatever the tracker
// decided is alert-worthy. Symbols are processed strictly sequentially so
// a cycle never interleaves its own alerts.
type Scanner struct {
	an   Analyzer
	tr   *Tracker
	post Poster
	log  logx.Logger
	bus  eventbus.Bus

	mu  sync.Mutex
	cfg ScanConfig

	store storage.Store
	hold  *HoldWatch

	now func() time.Time
}

func NewScanner(cfg ScanConfig, an Analyzer, tr *Tracker, post Poster, log logx.Logger, bus eventbus.Bus) *Scanner {
	return &Scanner{
		an:   an,
		tr:   tr,
		post: post,
		log:  log,
		bus:  bus,
		cfg:  cfg.normalize(),
		now:  time.Now,
	}
}

// SetStore attaches the audit store. Optional.
func (s *Scanner) SetStore(st storage.Store) { s.store = st }

// SetHoldWatch attaches or detaches the break-and-hold overlay. Safe
// during hot reload; nil detaches.
func (s *Scanner) SetHoldWatch(h *HoldWatch) {
	s.mu.Lock()
	s.hold = h
	s.mu.Unlock()
}

func (s *Scanner) holdWatch() *HoldWatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hold
}

// Apply swaps in new scan settings and prunes tracker state for symbols
// that left the watchlist.
func (s *Scanner) Apply(cfg ScanConfig) {
	cfg = cfg.normalize()
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	s.tr.Prune(cfg.Watchlist)
}

func (s *Scanner) snapshot() ScanConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Run executes one scan cycle. It returns an error only when the cycle
// aborts, either from context cancellation or from hitting the
// consecutive-failure limit; per-symbol failures below the limit are
// logged and skipped. Symbols after an abort keep their prior state.
func (s *Scanner) Run(ctx context.Context) error {
	cfg := s.snapshot()
	runID := uuid.NewString()
	log := s.log.With(logx.String("run_id", shortID(runID)))

	start := s.now()
	var processed, alerts, failures, skipped int

	for _, sym := range cfg.Watchlist {
		if err := ctx.Err(); err != nil {
			return err
		}

		sum, err := s.an.Analyze(ctx, sym)
		if err != nil {
			failures++
			skipped++
			if errors.Is(err, market.ErrNoData) {
				log.Debug("no data for symbol", logx.String("symbol", sym))
			} else {
				log.Warn("analyze failed",
					logx.String("symbol", sym),
					logx.Int("consecutive", failures),
					logx.Err(err))
			}
			if failures >= cfg.FailureLimit {
				return s.abort(ctx, log, runID, sym, failures, processed)
			}
			continue
		}
		failures = 0
		processed++

		obs := Observation{
			FlipLevel:      sum.FlipLevel,
			RegimeLabel:    sum.Regime.Label,
			ReferencePrice: sum.ReferencePrice,
		}
		dec := s.tr.Observe(sym, obs, s.now())
		switch {
		case dec.First:
			log.Debug("baseline stored",
				logx.String("symbol", sym),
				logx.String("regime", obs.RegimeLabel))
		case dec.Alert:
			alerts++
			s.emitAlert(ctx, log, cfg.Dest, sym, dec, sum)
		case dec.Suppressed:
			log.Debug("alert suppressed by cooldown",
				logx.String("symbol", sym),
				logx.String("regime", obs.RegimeLabel))
		}

		if hold := s.holdWatch(); hold != nil {
			hold.Check(ctx, sym, sum, cfg.Dest)
		}
	}

	log.Info("scan cycle complete",
		logx.Int("processed", processed),
		logx.Int("skipped", skipped),
		logx.Int("alerts", alerts),
		logx.Duration("took", s.now().Sub(start)))
	return nil
}

func (s *Scanner) emitAlert(ctx context.Context, log logx.Logger, dest, sym string, dec Decision, sum gex.Summary) {
	log.Info("regime alert",
		logx.String("symbol", sym),
		logx.String("regime", sum.Regime.Label),
		logx.String("prev_regime", dec.PrevRegime),
		logx.Bool("flip_moved", dec.FlipMoved))

	s.post.Post(ctx, dest, alertText(sym, dec, sum))

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeRegimeAlert, Data: AlertEvent{
			Symbol:     sym,
			Regime:     sum.Regime.Label,
			PrevRegime: dec.PrevRegime,
			FlipLevel:  sum.FlipLevel,
		}})
	}
	s.audit(ctx, storage.AuditEntry{
		At:     s.now(),
		Kind:   storage.AuditAlert,
		Actor:  "monitor",
		Symbol: sym,
		Dest:   dest,
		Action: "regime_alert",
		OK:     true,
		MetaJSON: fmt.Sprintf(`{"regime":%q,"prev_regime":%q}`,
			sum.Regime.Label, dec.PrevRegime),
	})
}

func (s *Scanner) abort(ctx context.Context, log logx.Logger, runID, sym string, failures, processed int) error {
	err := fmt.Errorf("scan aborted after %d consecutive failures at %s", failures, sym)
	log.Error("scan cycle aborted",
		logx.String("symbol", sym),
		logx.Int("processed", processed),
		logx.Err(err))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeScanAborted, Data: map[string]any{
			"run_id": runID,
			"symbol": sym,
		}})
	}
	s.audit(ctx, storage.AuditEntry{
		At:     s.now(),
		Kind:   storage.AuditScan,
		Actor:  "monitor",
		Symbol: sym,
		Action: "scan_abort",
		OK:     false,
		Error:  err.Error(),
	})
	return err
}

// audit is fire-and-forget: bookkeeping never fails a cycle.
func (s *Scanner) audit(ctx context.Context, e storage.AuditEntry) {
	if s.store == nil {
		return
	}
	if err := s.store.AppendAudit(ctx, e); err != nil {
		s.log.Warn("audit append failed", logx.Err(err))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
