package gex

import (
	"context"
	"errors"
	"testing"
	"time"

	"gexbot/internal/market"
	logx "gexbot/pkg/logx"
)

type fakeChain struct {
	chain market.OptionChain
	err   error
}

func (f *fakeChain) OptionChain(ctx context.Context, symbol string) (market.OptionChain, error) {
	return f.chain, f.err
}

var testNow = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

func newTestAnalyzer(chain market.OptionChain, err error) *Analyzer {
	a := NewAnalyzer(&fakeChain{chain: chain, err: err}, logx.Nop())
	a.now = func() time.Time { return testNow }
	return a
}

func contract(strike float64, oi int64, iv float64) market.OptionContract {
	return market.OptionContract{Strike: strike, OpenInterest: oi, ImpliedVol: iv}
}

func TestCallHeavyChainIsLongGamma(t *testing.T) {
	a := newTestAnalyzer(market.OptionChain{
		Symbol:     "SPY",
		Underlying: 100,
		Expiry:     testNow.Add(30 * 24 * time.Hour),
		Calls:      []market.OptionContract{contract(105, 10000, 0.2), contract(110, 8000, 0.2)},
		Puts:       []market.OptionContract{contract(95, 100, 0.2)},
	}, nil)

	sum, err := a.Analyze(context.Background(), "SPY")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if sum.NetGEX <= 0 {
		t.Fatalf("net GEX = %v, want positive", sum.NetGEX)
	}
	if sum.Regime.Label != RegimeLongGamma {
		t.Fatalf("regime = %q", sum.Regime.Label)
	}
	if sum.Regime.Confidence <= 0 || sum.Regime.Confidence > 1 {
		t.Fatalf("confidence = %v", sum.Regime.Confidence)
	}
	if sum.ReferencePrice != 100 {
		t.Fatalf("reference price = %v", sum.ReferencePrice)
	}
}

func TestPutHeavyChainIsShortGamma(t *testing.T) {
	a := newTestAnalyzer(market.OptionChain{
		Symbol:     "IWM",
		Underlying: 200,
		Expiry:     testNow.Add(14 * 24 * time.Hour),
		Calls:      []market.OptionContract{contract(210, 100, 0.25)},
		Puts:       []market.OptionContract{contract(190, 10000, 0.25), contract(195, 9000, 0.25)},
	}, nil)

	sum, err := a.Analyze(context.Background(), "IWM")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if sum.NetGEX >= 0 {
		t.Fatalf("net GEX = %v, want negative", sum.NetGEX)
	}
	if sum.Regime.Label != RegimeShortGamma {
		t.Fatalf("regime = %q", sum.Regime.Label)
	}
}

func TestFlipLevelBetweenWalls(t *testing.T) {
	a := newTestAnalyzer(market.OptionChain{
		Symbol:     "QQQ",
		Underlying: 100,
		Expiry:     testNow.Add(30 * 24 * time.Hour),
		Calls:      []market.OptionContract{contract(105, 4000, 0.2), contract(110, 4000, 0.2)},
		Puts:       []market.OptionContract{contract(90, 1000, 0.2), contract(95, 1000, 0.2)},
	}, nil)

	sum, err := a.Analyze(context.Background(), "QQQ")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if sum.FlipLevel == nil {
		t.Fatal("flip level missing")
	}
	if *sum.FlipLevel <= 95 || *sum.FlipLevel >= 105 {
		t.Fatalf("flip = %v, want in (95,105)", *sum.FlipLevel)
	}
	// Same open interest at both strikes: the one nearer the money carries
	// more gamma and wins the wall.
	if sum.Walls.CallWall != 105 {
		t.Fatalf("call wall = %v, want 105", sum.Walls.CallWall)
	}
	if sum.Walls.PutWall != 95 {
		t.Fatalf("put wall = %v, want 95", sum.Walls.PutWall)
	}
}

func TestOneSidedChainHasNoFlip(t *testing.T) {
	a := newTestAnalyzer(market.OptionChain{
		Symbol:     "SPY",
		Underlying: 100,
		Expiry:     testNow.Add(7 * 24 * time.Hour),
		Calls:      []market.OptionContract{contract(100, 500, 0.2), contract(105, 500, 0.2)},
	}, nil)

	sum, err := a.Analyze(context.Background(), "SPY")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if sum.FlipLevel != nil {
		t.Fatalf("flip = %v, want nil for one-sided book", *sum.FlipLevel)
	}
	if sum.Regime.Confidence != 1 {
		t.Fatalf("confidence = %v, want 1 for one-sided book", sum.Regime.Confidence)
	}
}

func TestUnusableChainIsNoData(t *testing.T) {
	cases := map[string]market.OptionChain{
		"no vol": {
			Underlying: 100,
			Expiry:     testNow.Add(24 * time.Hour),
			Calls:      []market.OptionContract{contract(100, 500, 0), contract(105, 500, 0)},
		},
		"no open interest": {
			Underlying: 100,
			Expiry:     testNow.Add(24 * time.Hour),
			Calls:      []market.OptionContract{contract(100, 0, 0.2), contract(105, 0, 0.2)},
		},
		"expired": {
			Underlying: 100,
			Expiry:     testNow.Add(-time.Hour),
			Calls:      []market.OptionContract{contract(100, 500, 0.2), contract(105, 500, 0.2)},
		},
		"no spot": {
			Expiry: testNow.Add(24 * time.Hour),
			Calls:  []market.OptionContract{contract(100, 500, 0.2)},
		},
	}
	for name, chain := range cases {
		a := newTestAnalyzer(chain, nil)
		if _, err := a.Analyze(context.Background(), "X"); !errors.Is(err, market.ErrNoData) {
			t.Errorf("%s: err = %v, want ErrNoData", name, err)
		}
	}
}

func TestSourceErrorPropagates(t *testing.T) {
	boom := errors.New("socket sadness")
	a := newTestAnalyzer(market.OptionChain{}, boom)
	if _, err := a.Analyze(context.Background(), "SPY"); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want source error", err)
	}
}
