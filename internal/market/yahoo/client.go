// Package yahoo fetches quotes, candles, and option chains from
// Yahoo-finance-style JSON endpoints (v7 quote, v8 chart, v7 options).
// Deployments normally point BaseURL at a caching proxy.
package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gexbot/internal/market"
	logx "gexbot/pkg/logx"
)

const (
	defaultBaseURL = "https://query1.finance.yahoo.com"
	defaultTimeout = 15 * time.Second

	// Yahoo rejects the default Go user agent.
	userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
)

type Config struct {
	BaseURL string
	Timeout time.Duration
}

type Client struct {
	base string
	http *http.Client
	log  logx.Logger
}

func New(cfg Config, log logx.Logger) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		base: base,
		http: &http.Client{Timeout: timeout},
		log:  log.With(logx.String("comp", "yahoo")),
	}
}

// Quote returns the current snapshot for one symbol.
func (c *Client) Quote(ctx context.Context, symbol string) (market.Quote, error) {
	quotes, err := c.Quotes(ctx, []string{symbol})
	if err != nil {
		return market.Quote{}, err
	}
	return quotes[0], nil
}

// Quotes returns snapshots for a batch of symbols in one request. Symbols
// the provider does not know are simply absent from the result; an entirely
// empty result is ErrNoData.
func (c *Client) Quotes(ctx context.Context, symbols []string) ([]market.Quote, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("quotes: %w", market.ErrNoData)
	}
	u := fmt.Sprintf("%s/v7/finance/quote?symbols=%s", c.base, url.QueryEscape(strings.Join(symbols, ",")))

	var body quoteResponse
	if err := c.getJSON(ctx, u, &body); err != nil {
		return nil, fmt.Errorf("quote %s: %w", strings.Join(symbols, ","), err)
	}
	if body.QuoteResponse.Error != nil {
		return nil, fmt.Errorf("quote %s: %s", strings.Join(symbols, ","), body.QuoteResponse.Error.Description)
	}
	if len(body.QuoteResponse.Result) == 0 {
		return nil, fmt.Errorf("quote %s: %w", strings.Join(symbols, ","), market.ErrNoData)
	}

	out := make([]market.Quote, 0, len(body.QuoteResponse.Result))
	for _, r := range body.QuoteResponse.Result {
		out = append(out, market.Quote{
			Symbol:        r.Symbol,
			Name:          firstNonEmpty(r.ShortName, r.LongName),
			Price:         r.RegularMarketPrice,
			PrevClose:     r.RegularMarketPreviousClose,
			Change:        r.RegularMarketChange,
			ChangePercent: r.RegularMarketChangePercent,
			DayHigh:       r.RegularMarketDayHigh,
			DayLow:        r.RegularMarketDayLow,
			Volume:        r.RegularMarketVolume,
			AsOf:          time.Unix(r.RegularMarketTime, 0),
		})
	}
	return out, nil
}

// History returns OHLCV bars for a symbol. interval and window use the
// chart endpoint's vocabulary ("1d"/"1mo", "5m"/"1d", ...). Bars with a
// null close are dropped.
func (c *Client) History(ctx context.Context, symbol, interval, window string) ([]market.Candle, error) {
	u := fmt.Sprintf("%s/v8/finance/chart/%s?interval=%s&range=%s",
		c.base, url.PathEscape(symbol), url.QueryEscape(interval), url.QueryEscape(window))

	var body chartResponse
	if err := c.getJSON(ctx, u, &body); err != nil {
		return nil, fmt.Errorf("history %s: %w", symbol, err)
	}
	if body.Chart.Error != nil {
		return nil, fmt.Errorf("history %s: %s", symbol, body.Chart.Error.Description)
	}
	if len(body.Chart.Result) == 0 {
		return nil, fmt.Errorf("history %s: %w", symbol, market.ErrNoData)
	}

	res := body.Chart.Result[0]
	if len(res.Timestamp) == 0 || len(res.Indicators.Quote) == 0 {
		return nil, fmt.Errorf("history %s: %w", symbol, market.ErrNoData)
	}
	q := res.Indicators.Quote[0]

	out := make([]market.Candle, 0, len(res.Timestamp))
	for i, ts := range res.Timestamp {
		bar := market.Candle{Time: time.Unix(ts, 0)}
		if v := at(q.Open, i); v != nil {
			bar.Open = *v
		}
		if v := at(q.High, i); v != nil {
			bar.High = *v
		}
		if v := at(q.Low, i); v != nil {
			bar.Low = *v
		}
		v := at(q.Close, i)
		if v == nil {
			continue
		}
		bar.Close = *v
		if n := atInt(q.Volume, i); n != nil {
			bar.Volume = *n
		}
		out = append(out, bar)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("history %s: %w", symbol, market.ErrNoData)
	}
	return out, nil
}

// OptionChain returns the nearest-expiry chain for a symbol together with
// the underlying spot. A symbol with no listed options is ErrNoData.
func (c *Client) OptionChain(ctx context.Context, symbol string) (market.OptionChain, error) {
	u := fmt.Sprintf("%s/v7/finance/options/%s", c.base, url.PathEscape(symbol))

	var body optionsResponse
	if err := c.getJSON(ctx, u, &body); err != nil {
		return market.OptionChain{}, fmt.Errorf("options %s: %w", symbol, err)
	}
	if body.OptionChain.Error != nil {
		return market.OptionChain{}, fmt.Errorf("options %s: %s", symbol, body.OptionChain.Error.Description)
	}
	if len(body.OptionChain.Result) == 0 {
		return market.OptionChain{}, fmt.Errorf("options %s: %w", symbol, market.ErrNoData)
	}

	res := body.OptionChain.Result[0]
	if len(res.Options) == 0 || (len(res.Options[0].Calls) == 0 && len(res.Options[0].Puts) == 0) {
		return market.OptionChain{}, fmt.Errorf("options %s: %w", symbol, market.ErrNoData)
	}
	exp := res.Options[0]

	chain := market.OptionChain{
		Symbol:     symbol,
		Underlying: res.Quote.RegularMarketPrice,
		Expiry:     time.Unix(exp.ExpirationDate, 0),
		Calls:      toContracts(exp.Calls),
		Puts:       toContracts(exp.Puts),
	}
	return chain, nil
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	c.log.Debug("fetch",
		logx.String("url", url),
		logx.Int("status", resp.StatusCode),
		logx.Duration("took", time.Since(start)))

	switch {
	case resp.StatusCode == http.StatusNotFound:
		io.Copy(io.Discard, resp.Body)
		return market.ErrNoData
	case resp.StatusCode != http.StatusOK:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

func toContracts(in []wireContract) []market.OptionContract {
	out := make([]market.OptionContract, 0, len(in))
	for _, w := range in {
		out = append(out, market.OptionContract{
			Strike:       w.Strike,
			OpenInterest: w.OpenInterest,
			ImpliedVol:   w.ImpliedVolatility,
			LastPrice:    w.LastPrice,
		})
	}
	return out
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func at(vs []*float64, i int) *float64 {
	if i < len(vs) {
		return vs[i]
	}
	return nil
}

func atInt(vs []*int64, i int) *int64 {
	if i < len(vs) {
		return vs[i]
	}
	return nil
}
