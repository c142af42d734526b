package monitor

import (
	"fmt"
	"math"
	"strings"

	"gexbot/internal/market/gex"
	"gexbot/pkg/chatfmt"
)

// alertText renders a regime alert as chat HTML. It names the transition
// that fired, previous versus current regime or flip level, plus the
// usual context lines.
func alertText(symbol string, dec Decision, sum gex.Summary) string {
	var b strings.Builder

	b.WriteString("⚡ " + chatfmt.B(symbol+" gamma regime alert").String() + "\n")
	if dec.RegimeChanged {
		fmt.Fprintf(&b, "Regime: %s → %s\n",
			chatfmt.Esc(dec.PrevRegime), chatfmt.Esc(sum.Regime.Label))
	}
	if dec.FlipMoved && dec.PrevFlip != nil && sum.FlipLevel != nil {
		prev, cur := *dec.PrevFlip, *sum.FlipLevel
		fmt.Fprintf(&b, "Flip level: %s → %s (%s)\n",
			chatfmt.Price(prev), chatfmt.Price(cur), chatfmt.Pct(flipMovePct(prev, cur)))
	}

	fmt.Fprintf(&b, "Spot %s · net GEX %s · confidence %.0f%%",
		chatfmt.Price(sum.ReferencePrice), chatfmt.Compact(sum.NetGEX), sum.Regime.Confidence*100)
	if sum.Walls.CallWall > 0 || sum.Walls.PutWall > 0 {
		b.WriteString("\n" + wallsLine(sum.Walls))
	}
	return b.String()
}

func flipMovePct(prev, cur float64) float64 {
	if prev == 0 {
		return 0
	}
	return (cur - prev) / math.Abs(prev) * 100
}

func wallsLine(w gex.Walls) string {
	var parts []string
	if w.CallWall > 0 {
		parts = append(parts, "call wall "+chatfmt.Price(w.CallWall))
	}
	if w.PutWall > 0 {
		parts = append(parts, "put wall "+chatfmt.Price(w.PutWall))
	}
	return "Walls: " + strings.Join(parts, " · ")
}

// holdText renders a break-and-hold confirmation.
func holdText(symbol string, br breakResult) string {
	var b strings.Builder
	b.WriteString("\U0001f4d0 " + chatfmt.B(symbol+" wall break").String() + "\n")
	dir := "above call"
	if !br.above {
		dir = "below put"
	}
	fmt.Fprintf(&b, "Closed %s wall %s and held %d bars (last close %s)",
		dir, chatfmt.Price(br.level), br.bars, chatfmt.Price(br.lastClose))
	return b.String()
}
