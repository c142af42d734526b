package market

import (
	"context"
	"errors"
	"strings"
	"testing"

	logx "gexbot/pkg/logx"
)

type fakeProvider struct {
	quote    Quote
	quoteErr error
	hist     []Candle
	histErr  error
}

func (f *fakeProvider) Quote(ctx context.Context, symbol string) (Quote, error) {
	return f.quote, f.quoteErr
}

func (f *fakeProvider) History(ctx context.Context, symbol, interval, window string) ([]Candle, error) {
	return f.hist, f.histErr
}

func TestFetchComplete(t *testing.T) {
	src := &fakeProvider{
		quote: Quote{Symbol: "SPY", Price: 510, PrevClose: 500},
		hist:  []Candle{{Close: 505}},
	}
	b := NewContextBuilder(src, logx.Nop())

	mc := b.Fetch(context.Background(), "SPY")
	if !mc.Complete() {
		t.Fatalf("Missing = %v, want none", mc.Missing)
	}
	if mc.Quote == nil || mc.Quote.Price != 510 {
		t.Fatalf("quote = %+v", mc.Quote)
	}
	if mc.DayChange != 2.0 {
		t.Fatalf("day change = %v, want 2.0", mc.DayChange)
	}
	if mc.Message != "" {
		t.Fatalf("unexpected message %q", mc.Message)
	}
}

func TestFetchQuoteMissingSetsMessage(t *testing.T) {
	src := &fakeProvider{quoteErr: ErrNoData, histErr: ErrNoData}
	b := NewContextBuilder(src, logx.Nop())

	mc := b.Fetch(context.Background(), "GONE")
	if mc.Complete() {
		t.Fatal("context should be incomplete")
	}
	if len(mc.Missing) != 2 {
		t.Fatalf("Missing = %v", mc.Missing)
	}
	if !strings.Contains(mc.Message, "GONE") || !strings.Contains(mc.Message, "unavailable") {
		t.Fatalf("message = %q", mc.Message)
	}
}

func TestFetchUnexpectedErrorStillDegrades(t *testing.T) {
	src := &fakeProvider{
		quote:   Quote{Symbol: "SPY", Price: 510, ChangePercent: 1.5},
		histErr: errors.New("boom"),
	}
	b := NewContextBuilder(src, logx.Nop())

	mc := b.Fetch(context.Background(), "SPY")
	if mc.Quote == nil {
		t.Fatal("quote should survive history failure")
	}
	if len(mc.Missing) != 1 || mc.Missing[0] != "history" {
		t.Fatalf("Missing = %v", mc.Missing)
	}
	if mc.DayChange != 1.5 {
		t.Fatalf("day change = %v", mc.DayChange)
	}
}
