// Package gex computes dealer gamma-exposure summaries from an option
// chain: net GEX, the flip level where cumulative exposure crosses zero,
// call/put walls, and a regime label.
package gex

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"gexbot/internal/market"
	logx "gexbot/pkg/logx"
)

// Contract size for US listed equity and ETF options.
const contractMultiplier = 100

// ChainSource is the slice of a data client the analyzer needs.
type ChainSource interface {
	OptionChain(ctx context.Context, symbol string) (market.OptionChain, error)
}

type Regime struct {
	Label      string
	Confidence float64 // net/gross exposure ratio in [0,1]
}

type Walls struct {
	CallWall float64 // strike with the largest call exposure, 0 if none
	PutWall  float64 // strike with the largest put exposure, 0 if none
}

// Summary is one symbol's gamma-exposure snapshot.
type Summary struct {
	Symbol         string
	ReferencePrice float64
	Regime         Regime
	FlipLevel      *float64 // nil when cumulative exposure never crosses zero
	Walls          Walls
	NetGEX         float64 // dollar gamma per 1% move
	AsOf           time.Time
}

const (
	RegimeLongGamma  = "Long Gamma"
	RegimeShortGamma = "Short Gamma"
)

type Analyzer struct {
	src ChainSource
	log logx.Logger
	now func() time.Time
}

func NewAnalyzer(src ChainSource, log logx.Logger) *Analyzer {
	return &Analyzer{
		src: src,
		log: log.With(logx.String("comp", "gex")),
		now: time.Now,
	}
}

// Analyze fetches the nearest-expiry chain and reduces it to a Summary.
// A chain with no usable contracts (missing vol, expired, no spot) is
// market.ErrNoData.
func (a *Analyzer) Analyze(ctx context.Context, symbol string) (Summary, error) {
	chain, err := a.src.OptionChain(ctx, symbol)
	if err != nil {
		return Summary{}, err
	}

	now := a.now()
	spot := chain.Underlying
	tYears := chain.Expiry.Sub(now).Hours() / (24 * 365)
	if spot <= 0 || tYears <= 0 {
		return Summary{}, fmt.Errorf("gex %s: %w", symbol, market.ErrNoData)
	}

	// Dealer-positioning convention: dealers are long gamma on the calls
	// they are short against customers, short gamma on the puts.
	netByStrike := map[float64]float64{}
	callByStrike := map[float64]float64{}
	putByStrike := map[float64]float64{}
	usable := 0

	for _, c := range chain.Calls {
		exp := exposure(spot, c, tYears)
		if exp == 0 {
			continue
		}
		usable++
		netByStrike[c.Strike] += exp
		callByStrike[c.Strike] += exp
	}
	for _, p := range chain.Puts {
		exp := exposure(spot, p, tYears)
		if exp == 0 {
			continue
		}
		usable++
		netByStrike[p.Strike] -= exp
		putByStrike[p.Strike] += exp
	}
	if usable < 2 {
		return Summary{}, fmt.Errorf("gex %s: %w", symbol, market.ErrNoData)
	}

	strikes := make([]float64, 0, len(netByStrike))
	for k := range netByStrike {
		strikes = append(strikes, k)
	}
	sort.Float64s(strikes)

	var net, gross float64
	for _, k := range strikes {
		net += netByStrike[k]
		gross += math.Abs(netByStrike[k])
	}

	sum := Summary{
		Symbol:         symbol,
		ReferencePrice: spot,
		FlipLevel:      flipLevel(strikes, netByStrike),
		Walls: Walls{
			CallWall: argmax(callByStrike),
			PutWall:  argmax(putByStrike),
		},
		NetGEX: net,
		AsOf:   now,
	}
	sum.Regime.Label = RegimeLongGamma
	if net < 0 {
		sum.Regime.Label = RegimeShortGamma
	}
	if gross > 0 {
		sum.Regime.Confidence = math.Abs(net) / gross
	}

	a.log.Debug("analyzed",
		logx.String("symbol", symbol),
		logx.String("regime", sum.Regime.Label),
		logx.Float64("net_gex", sum.NetGEX),
		logx.Int("strikes", len(strikes)))
	return sum, nil
}

var stdNormal = distuv.Normal{Mu: 0, Sigma: 1}

// bsGamma is the Black-Scholes gamma φ(d1)/(S·σ·√T), zero-rate convention.
func bsGamma(spot, strike, vol, tYears float64) float64 {
	if spot <= 0 || strike <= 0 || vol <= 0 || tYears <= 0 {
		return 0
	}
	volRootT := vol * math.Sqrt(tYears)
	d1 := (math.Log(spot/strike) + 0.5*vol*vol*tYears) / volRootT
	return stdNormal.Prob(d1) / (spot * volRootT)
}

// exposure is the dollar gamma of one strike's open interest per 1% move
// of the underlying.
func exposure(spot float64, c market.OptionContract, tYears float64) float64 {
	if c.OpenInterest <= 0 {
		return 0
	}
	g := bsGamma(spot, c.Strike, c.ImpliedVol, tYears)
	if g == 0 {
		return 0
	}
	return g * float64(c.OpenInterest) * contractMultiplier * spot * spot * 0.01
}

// flipLevel finds where cumulative net exposure, accumulated from the
// lowest strike up, crosses zero; linear interpolation between the two
// bracketing strikes. Nil when the cumulative never changes sign.
func flipLevel(strikes []float64, net map[float64]float64) *float64 {
	if len(strikes) < 2 {
		return nil
	}
	cums := make([]float64, len(strikes))
	run := 0.0
	for i, k := range strikes {
		run += net[k]
		cums[i] = run
	}
	for i := 1; i < len(cums); i++ {
		c0, c1 := cums[i-1], cums[i]
		if c0 == 0 {
			f := strikes[i-1]
			return &f
		}
		if (c0 < 0) != (c1 < 0) {
			f := strikes[i-1] + (0-c0)*(strikes[i]-strikes[i-1])/(c1-c0)
			return &f
		}
	}
	return nil
}

func argmax(byStrike map[float64]float64) float64 {
	var best, bestVal float64
	for k, v := range byStrike {
		if v > bestVal {
			best, bestVal = k, v
		}
	}
	return best
}
