package chatfmt

import (
	"fmt"
	"math"
)

// Price formats a price with two decimals, dropping them for large values
// where cents are noise.
func Price(v float64) string {
	if math.Abs(v) >= 10000 {
		return fmt.Sprintf("%.0f", v)
	}
	return fmt.Sprintf("%.2f", v)
}

// Pct formats a percentage value (already in percent units) with a sign.
func Pct(v float64) string {
	return fmt.Sprintf("%+.2f%%", v)
}

// Signed formats a value with an explicit sign.
func Signed(v float64) string {
	return fmt.Sprintf("%+.2f", v)
}

// Compact renders large magnitudes with a suffix: 1.25M, 3.4B.
func Compact(v float64) string {
	abs := math.Abs(v)
	switch {
	case abs >= 1e12:
		return fmt.Sprintf("%.2fT", v/1e12)
	case abs >= 1e9:
		return fmt.Sprintf("%.2fB", v/1e9)
	case abs >= 1e6:
		return fmt.Sprintf("%.2fM", v/1e6)
	case abs >= 1e3:
		return fmt.Sprintf("%.1fK", v/1e3)
	default:
		return fmt.Sprintf("%.0f", v)
	}
}

// ChangeArrow picks the direction marker for a percent change.
func ChangeArrow(pct float64) string {
	switch {
	case pct > 0.005:
		return "▲"
	case pct < -0.005:
		return "▼"
	default:
		return "—"
	}
}
