package market

import (
	"context"
	"errors"
	"fmt"

	logx "gexbot/pkg/logx"
)

// Provider is the slice of a data client the context builder needs.
type Provider interface {
	Quote(ctx context.Context, symbol string) (Quote, error)
	History(ctx context.Context, symbol, interval, window string) ([]Candle, error)
}

// ContextBuilder assembles per-symbol Contexts. It never returns an error:
// whatever could not be fetched is recorded in Context.Missing and the
// Message text says so honestly.
type ContextBuilder struct {
	src Provider
	log logx.Logger
}

func NewContextBuilder(src Provider, log logx.Logger) *ContextBuilder {
	return &ContextBuilder{src: src, log: log.With(logx.String("comp", "marketctx"))}
}

func (b *ContextBuilder) Fetch(ctx context.Context, symbol string) Context {
	out := Context{Symbol: symbol}

	q, err := b.src.Quote(ctx, symbol)
	switch {
	case err == nil:
		out.Quote = &q
		out.DayChange = dayChange(q)
	case errors.Is(err, ErrNoData):
		out.Missing = append(out.Missing, "quote")
	default:
		out.Missing = append(out.Missing, "quote")
		b.log.Warn("quote fetch failed", logx.String("symbol", symbol), logx.Err(err))
	}

	hist, err := b.src.History(ctx, symbol, "1d", "1mo")
	switch {
	case err == nil:
		out.History = hist
	case errors.Is(err, ErrNoData):
		out.Missing = append(out.Missing, "history")
	default:
		out.Missing = append(out.Missing, "history")
		b.log.Warn("history fetch failed", logx.String("symbol", symbol), logx.Err(err))
	}

	if out.Quote == nil {
		out.Message = fmt.Sprintf("Market data for %s is unavailable right now.", symbol)
	}
	return out
}

func dayChange(q Quote) float64 {
	if q.ChangePercent != 0 {
		return q.ChangePercent
	}
	if q.PrevClose > 0 {
		return (q.Price - q.PrevClose) / q.PrevClose * 100
	}
	return 0
}
