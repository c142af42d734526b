package market

import (
	"errors"
	"time"
)

var (
	// ErrNoData marks an expected absence: the provider answered but had
	// nothing for the symbol (delisted, no chain, empty range). Callers
	// skip silently instead of logging.
	ErrNoData = errors.New("no market data")

	// ErrNotConfigured marks a provider that is disabled by configuration.
	ErrNotConfigured = errors.New("market provider not configured")
)

// Quote is a point-in-time price snapshot for one symbol.
type Quote struct {
	Symbol        string
	Name          string
	Price         float64
	PrevClose     float64
	Change        float64
	ChangePercent float64
	DayHigh       float64
	DayLow        float64
	Volume        int64
	AsOf          time.Time
}

// Candle is one OHLCV bar.
type Candle struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// OptionContract is one listed option at a strike.
type OptionContract struct {
	Strike       float64
	OpenInterest int64
	ImpliedVol   float64
	LastPrice    float64
}

// OptionChain is the calls/puts surface for one symbol and expiry,
// together with the underlying spot at fetch time.
type OptionChain struct {
	Symbol     string
	Underlying float64
	Expiry     time.Time
	Calls      []OptionContract
	Puts       []OptionContract
}

// Context is the assembled per-symbol snapshot used to build chat output.
// Fetch failures never fail the caller: absent pieces are listed in Missing
// and Message carries the honest fallback text to post instead.
type Context struct {
	Symbol    string
	Quote     *Quote
	History   []Candle
	DayChange float64
	Missing   []string
	Message   string
}

// Complete reports whether every requested piece was fetched.
func (c Context) Complete() bool { return len(c.Missing) == 0 }
