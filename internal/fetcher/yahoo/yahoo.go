// Package yahoo implements the foreign-market data source backed by the
// Yahoo Finance v8 chart and v7 quote APIs. It is the only source serving
// US and TW symbols. The chart endpoint yields adjusted prices, so the raw
// OHLC is rescaled by adjclose/close and the turnover amount is
// reconstructed as volume*close.
package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/seenimoa/stockwatch/internal/fetcher"
	"github.com/seenimoa/stockwatch/internal/infra"
	"github.com/seenimoa/stockwatch/internal/market"
)

const (
	sourceName = "yahoo"
	chartURL   = "https://query1.finance.yahoo.com/v8/finance/chart/%s?period1=%d&period2=%d&interval=1d"
	quoteURL   = "https://query1.finance.yahoo.com/v7/finance/quote?symbols=%s"
)

// Source is the Yahoo Finance data source.
type Source struct {
	fetcher.BaseSource
}

// New builds the source.
func New(priority int, gate *infra.RateGate, client *http.Client) *Source {
	return &Source{BaseSource: fetcher.NewBaseSource(sourceName, priority, gate, client)}
}

func (s *Source) fetchJSON(ctx context.Context, url string, dest any) error {
	if err := s.Wait(ctx); err != nil {
		return err
	}
	body, err := infra.DoGet(ctx, s.Client(), url, map[string]string{"Accept": "application/json"})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("yahoo: parse response: %w", err)
	}
	return nil
}

// Daily fetches the adjusted daily series for the window.
func (s *Source) Daily(ctx context.Context, sym market.Symbol, start, end time.Time) (*market.CandleSeries, error) {
	if sym.IsIndex() {
		return nil, fetcher.ErrUnsupportedMarket
	}
	if end.IsZero() {
		end = time.Now()
	}
	if start.IsZero() {
		start = end.AddDate(0, -4, 0)
	}
	// period2 is exclusive; push it past the end day.
	url := fmt.Sprintf(chartURL, sym.YahooTicker(), start.Unix(), end.AddDate(0, 0, 1).Unix())

	var resp chartResponse
	if err := s.fetchJSON(ctx, url, &resp); err != nil {
		return nil, err
	}
	if resp.Chart.Error != nil {
		return nil, fmt.Errorf("yahoo chart %s: %s", sym.Code, resp.Chart.Error.Description)
	}
	if len(resp.Chart.Result) == 0 {
		return nil, fmt.Errorf("yahoo chart %s: no result", sym.Code)
	}

	series := parseChart(sym.Code, resp.Chart.Result[0])
	series.Normalize()
	if err := series.Validate(); err != nil {
		return nil, fmt.Errorf("yahoo chart %s: %w", sym.Code, err)
	}
	return series, nil
}

// parseChart converts one chart result into a candle series, rescaling the
// OHLC to the adjusted price level row by row.
func parseChart(code string, r chartResult) *market.CandleSeries {
	series := &market.CandleSeries{Code: code}
	if len(r.Indicators.Quote) == 0 {
		return series
	}
	q := r.Indicators.Quote[0]
	var adj []*float64
	if len(r.Indicators.AdjClose) > 0 {
		adj = r.Indicators.AdjClose[0].AdjClose
	}

	var prevClose float64
	for i, ts := range r.Timestamp {
		var c market.Candle
		c.Date = time.Unix(ts, 0).UTC().Truncate(24 * time.Hour)
		if i < len(q.Open) && q.Open[i] != nil {
			c.Open = *q.Open[i]
		}
		if i < len(q.High) && q.High[i] != nil {
			c.High = *q.High[i]
		}
		if i < len(q.Low) && q.Low[i] != nil {
			c.Low = *q.Low[i]
		}
		if i < len(q.Close) && q.Close[i] != nil {
			c.Close = *q.Close[i]
		}
		if i < len(q.Volume) && q.Volume[i] != nil {
			c.Volume = *q.Volume[i]
		}
		if i < len(adj) && adj[i] != nil && c.Close > 0 {
			factor := *adj[i] / c.Close
			c.Open *= factor
			c.High *= factor
			c.Low *= factor
			c.Close = *adj[i]
		}
		if c.Close > 0 {
			c.Amount = float64(c.Volume) * c.Close
		}
		if prevClose > 0 {
			c.PctChg = (c.Close - prevClose) / prevClose * 100
		}
		prevClose = c.Close
		series.Candles = append(series.Candles, c)
	}
	return series
}

// Quote fetches one realtime quote. A symbol Yahoo does not know returns
// (nil, nil).
func (s *Source) Quote(ctx context.Context, sym market.Symbol) (*market.RealtimeQuote, error) {
	var resp quoteResponse
	if err := s.fetchJSON(ctx, fmt.Sprintf(quoteURL, sym.YahooTicker()), &resp); err != nil {
		return nil, err
	}
	if resp.QuoteResponse.Error != nil {
		return nil, fmt.Errorf("yahoo quote %s: %s", sym.Code, resp.QuoteResponse.Error.Description)
	}
	if len(resp.QuoteResponse.Result) == 0 {
		return nil, nil
	}
	r := resp.QuoteResponse.Result[0]
	name := r.LongName
	if name == "" {
		name = r.ShortName
	}
	return &market.RealtimeQuote{
		Code:         sym.Code,
		Name:         name,
		Source:       sourceName,
		Price:        r.RegularMarketPrice,
		ChangePct:    r.RegularMarketChangePercent,
		ChangeAmount: r.RegularMarketChange,
		Open:         r.RegularMarketOpen,
		High:         r.RegularMarketDayHigh,
		Low:          r.RegularMarketDayLow,
		PrevClose:    r.RegularMarketPreviousClose,
		Volume:       r.RegularMarketVolume,
		WeekHigh52:   r.FiftyTwoWeekHigh,
		WeekLow52:    r.FiftyTwoWeekLow,
		PE:           r.TrailingPE,
		PB:           r.PriceToBook,
		TotalMV:      r.MarketCap,
		Timestamp:    time.Unix(r.RegularMarketTime, 0),
	}, nil
}

// StockName resolves the display name via the quote endpoint.
func (s *Source) StockName(ctx context.Context, sym market.Symbol) (string, error) {
	q, err := s.Quote(ctx, sym)
	if err != nil || q == nil {
		return "", err
	}
	return q.Name, nil
}

// StockList is not available on Yahoo; bulk naming falls through to
// per-symbol lookups.
func (s *Source) StockList(ctx context.Context) (map[string]string, error) {
	return nil, nil
}
