package briefing

import (
	"context"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"

	"gexbot/internal/market"
	"gexbot/internal/storage"
	"gexbot/pkg/chatfmt"
	"gexbot/pkg/chatui"
	"gexbot/pkg/logx"
)

type sectorRow struct {
	Symbol string
	Name   string
	Change float64
}

// SectorScan ranks the sector ETFs by day change and posts breadth plus
// leaders and laggards. Unlike briefings this job fails when the quote
// batch does, so the scheduler records the miss.
func (s *Service) SectorScan(ctx context.Context) error {
	cfg := s.snapshot()
	start := s.now()
	quotes, err := s.quotes.Quotes(ctx, cfg.Sectors)
	if err != nil {
		return fmt.Errorf("sector quotes: %w", err)
	}
	if len(quotes) == 0 {
		return fmt.Errorf("sector quotes: %w", market.ErrNoData)
	}

	rows := make([]sectorRow, 0, len(quotes))
	changes := make([]float64, 0, len(quotes))
	advancing := 0
	for _, q := range quotes {
		chg := q.ChangePercent
		rows = append(rows, sectorRow{Symbol: q.Symbol, Name: q.Name, Change: chg})
		changes = append(changes, chg)
		if chg > 0 {
			advancing++
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Change > rows[j].Change })

	b := chatui.New().Title("\U0001f9ed", "Sector scan").RawLine(breadthLine(advancing, changes))

	n := cfg.TopN
	if n > len(rows) {
		n = len(rows)
	}
	b.Blank().Section("Leaders")
	for _, r := range rows[:n] {
		b.RawLine(sectorLine(r))
	}
	b.Blank().Section("Laggards")
	for _, r := range rows[len(rows)-n:] {
		b.RawLine(sectorLine(r))
	}

	s.post.Post(ctx, cfg.ScanDest, b.Build().Text)
	s.audit(ctx, storage.AuditEntry{
		At:       s.now(),
		Kind:     storage.AuditBriefing,
		Actor:    "scheduler",
		Dest:     cfg.ScanDest,
		Action:   "sector_scan",
		OK:       true,
		TookMS:   s.now().Sub(start).Milliseconds(),
		MetaJSON: fmt.Sprintf(`{"sectors":%d,"advancing":%d}`, len(rows), advancing),
	})
	s.log.Info("sector scan posted",
		logx.Int("sectors", len(rows)),
		logx.Int("advancing", advancing))
	return nil
}

func breadthLine(advancing int, changes []float64) chatfmt.H {
	mean := stat.Mean(changes, nil)
	line := fmt.Sprintf("Breadth: %d/%d advancing · mean %s",
		advancing, len(changes), chatfmt.Pct(mean))
	if len(changes) > 1 {
		line += fmt.Sprintf(" · σ %.2f", stat.StdDev(changes, nil))
	}
	return chatfmt.Esc(line)
}

func sectorLine(r sectorRow) chatfmt.H {
	line := fmt.Sprintf("• %s %s %s",
		chatfmt.B(r.Symbol), chatfmt.ChangeArrow(r.Change), chatfmt.Pct(r.Change))
	if r.Name != "" {
		line += " " + chatfmt.I(chatfmt.TruncRunes(r.Name, 28)).String()
	}
	return chatfmt.Raw(line)
}
