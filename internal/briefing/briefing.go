// Package briefing builds the scheduled market summaries: morning and
// evening index briefings plus the sector rotation scan. Market data
// gaps degrade to honest "unavailable" lines and AI commentary is a
// silent no-op when no completer is configured.
package briefing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"gexbot/internal/ai"
	"gexbot/internal/market"
	"gexbot/internal/storage"
	"gexbot/pkg/chatfmt"
	"gexbot/pkg/chatui"
	"gexbot/pkg/logx"
)

// ContextFetcher assembles a per-symbol market context. Satisfied by
// market.ContextBuilder.
type ContextFetcher interface {
	Fetch(ctx context.Context, symbol string) market.Context
}

// QuoteBatcher fetches a batch of quotes in one call.
type QuoteBatcher interface {
	Quotes(ctx context.Context, symbols []string) ([]market.Quote, error)
}

// Poster sends rendered content to a named destination.
type Poster interface {
	Post(ctx context.Context, dest, content string)
}

var defaultSectors = []string{
	"XLK", "XLF", "XLV", "XLE", "XLY", "XLP", "XLI", "XLB", "XLRE", "XLU", "XLC",
}

// Config configures the briefing service. Zero values take the defaults.
type Config struct {
	// Indices are the headline symbols in every briefing.
	// Default SPY, QQQ, IWM.
	Indices []string

	// VIX is the volatility symbol appended after the indices.
	// Default ^VIX.
	VIX string

	// Sectors are the ETFs ranked by the sector scan. Default: the
	// eleven SPDR sector funds.
	Sectors []string

	// Dest receives briefings. Default "general".
	Dest string

	// ScanDest receives sector scans. Default "trading".
	ScanDest string

	// TopN is how many leaders and laggards the scan lists. Default 3.
	TopN int
}

func (c Config) normalize() Config {
	if len(c.Indices) == 0 {
		c.Indices = []string{"SPY", "QQQ", "IWM"}
	}
	if c.VIX == "" {
		c.VIX = "^VIX"
	}
	if len(c.Sectors) == 0 {
		c.Sectors = defaultSectors
	}
	if c.Dest == "" {
		c.Dest = "general"
	}
	if c.ScanDest == "" {
		c.ScanDest = "trading"
	}
	if c.TopN <= 0 {
		c.TopN = 3
	}
	return c
}

type Service struct {
	fetch  ContextFetcher
	quotes QuoteBatcher
	post   Poster
	log    logx.Logger

	mu   sync.Mutex
	cfg  Config
	comp ai.Completer

	store storage.Store

	now func() time.Time
}

func New(cfg Config, fetch ContextFetcher, quotes QuoteBatcher, post Poster, log logx.Logger) *Service {
	return &Service{
		cfg:    cfg.normalize(),
		fetch:  fetch,
		quotes: quotes,
		post:   post,
		log:    log,
		now:    time.Now,
	}
}

// Apply swaps the symbol lists and destinations. Safe during hot reload.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.normalize()
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *Service) snapshot() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// SetCompleter attaches or replaces the AI commentary backend. Optional;
// nil disables commentary.
func (s *Service) SetCompleter(c ai.Completer) {
	s.mu.Lock()
	s.comp = c
	s.mu.Unlock()
}

func (s *Service) completer() ai.Completer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.comp
}

// SetStore attaches the audit store. Optional.
func (s *Service) SetStore(st storage.Store) { s.store = st }

// Morning posts the pre-market briefing.
func (s *Service) Morning(ctx context.Context) error {
	return s.briefing(ctx, "morning", "☀️", "Morning briefing")
}

// Evening posts the closing wrap.
func (s *Service) Evening(ctx context.Context) error {
	return s.briefing(ctx, "evening", "\U0001f319", "Evening wrap")
}

// briefing always posts something: symbols that could not be fetched
// show as unavailable rather than failing the job.
func (s *Service) briefing(ctx context.Context, kind, emoji, title string) error {
	cfg := s.snapshot()
	start := s.now()
	contexts := make([]market.Context, 0, len(cfg.Indices)+1)
	for _, sym := range cfg.Indices {
		contexts = append(contexts, s.fetch.Fetch(ctx, sym))
	}
	contexts = append(contexts, s.fetch.Fetch(ctx, cfg.VIX))

	b := chatui.New().
		Title(emoji, title).
		Line(start.Format("Mon, Jan 2 15:04 MST")).
		Blank()
	available := 0
	for _, c := range contexts {
		b.RawLine(indexRow(c))
		if c.Quote != nil {
			available++
		}
	}
	if available == 0 {
		b.Blank().Line("Market data is unavailable right now; retrying on the next run.")
	}
	if text := s.commentary(ctx, kind, contexts); text != "" {
		b.Blank().Section("Commentary").Line(text)
	}

	s.post.Post(ctx, cfg.Dest, b.Build().Text)
	s.audit(ctx, storage.AuditEntry{
		At:     s.now(),
		Kind:   storage.AuditBriefing,
		Actor:  "scheduler",
		Dest:   cfg.Dest,
		Action: kind + "_briefing",
		OK:     true,
		TookMS: s.now().Sub(start).Milliseconds(),
	})
	s.log.Info("briefing posted",
		logx.String("kind", kind),
		logx.Int("symbols", len(contexts)),
		logx.Int("available", available))
	return nil
}

// commentary asks the completer for a short take on the day's moves.
// Missing configuration is the expected quiet path.
func (s *Service) commentary(ctx context.Context, kind string, contexts []market.Context) string {
	comp := s.completer()
	if comp == nil {
		return ""
	}
	prompt := commentaryPrompt(kind, contexts)
	text, err := comp.Complete(ctx, prompt)
	if err != nil {
		if errors.Is(err, ai.ErrNotConfigured) {
			return ""
		}
		s.log.Warn("commentary failed", logx.Err(err))
		return ""
	}
	return text
}

func commentaryPrompt(kind string, contexts []market.Context) string {
	var b strings.Builder
	b.WriteString("You are a trading desk assistant. Today's index moves: ")
	for i, c := range contexts {
		if i > 0 {
			b.WriteString(", ")
		}
		if c.Quote == nil {
			fmt.Fprintf(&b, "%s unavailable", c.Symbol)
			continue
		}
		fmt.Fprintf(&b, "%s %s (%s)", c.Symbol, chatfmt.Price(c.Quote.Price), chatfmt.Pct(c.DayChange))
	}
	tone := "pre-market"
	if kind == "evening" {
		tone = "closing"
	}
	fmt.Fprintf(&b, ". Write two or three plain sentences of %s commentary. No advice, no hedging boilerplate.", tone)
	return b.String()
}

func indexRow(c market.Context) chatfmt.H {
	name := strings.TrimPrefix(c.Symbol, "^")
	if c.Quote == nil {
		return chatfmt.Raw("• " + chatfmt.B(name).String() + ": data unavailable")
	}
	return chatfmt.Raw(fmt.Sprintf("• %s: %s %s %s",
		chatfmt.B(name),
		chatfmt.Price(c.Quote.Price),
		chatfmt.ChangeArrow(c.DayChange),
		chatfmt.Pct(c.DayChange)))
}

func (s *Service) audit(ctx context.Context, e storage.AuditEntry) {
	if s.store == nil {
		return
	}
	if err := s.store.AppendAudit(ctx, e); err != nil {
		s.log.Warn("audit append failed", logx.Err(err))
	}
}
