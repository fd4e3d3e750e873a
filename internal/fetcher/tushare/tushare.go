// Package tushare implements the token-paid data source backed by the
// Tushare Pro JSON-RPC-style POST API. Data quality is high but the quota
// is strict (per-minute, per-token), so the source ships with a tight rate
// gate and is only elevated above the free sources when a token is
// configured.
package tushare

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/seenimoa/stockwatch/internal/fetcher"
	"github.com/seenimoa/stockwatch/internal/infra"
	"github.com/seenimoa/stockwatch/internal/market"
)

const (
	sourceName = "tushare"
	apiURL     = "https://api.tushare.pro"
)

// apiResponse is the generic Tushare envelope: a column list plus rows of
// untyped values.
type apiResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data *struct {
		Fields []string `json:"fields"`
		Items  [][]any  `json:"items"`
	} `json:"data"`
}

// Source is the Tushare Pro data source.
type Source struct {
	fetcher.BaseSource
	token   string
	baseURL string // test override; empty in production
}

// New builds the source. An empty token leaves the source registered but
// failing fast, so the manager simply falls through to the free tier.
func New(priority int, gate *infra.RateGate, client *http.Client, token string) *Source {
	return &Source{
		BaseSource: fetcher.NewBaseSource(sourceName, priority, gate, client),
		token:      token,
	}
}

// HasToken reports whether a credential is configured. The wiring layer
// uses it to elevate the source's priority.
func (s *Source) HasToken() bool { return s.token != "" }

func (s *Source) api(ctx context.Context, apiName string, params map[string]string, fields string, dest *apiResponse) error {
	if s.token == "" {
		return fmt.Errorf("tushare: no token configured")
	}
	if err := s.Wait(ctx); err != nil {
		return err
	}
	url := apiURL
	if s.baseURL != "" {
		url = s.baseURL
	}
	payload := map[string]any{
		"api_name": apiName,
		"token":    s.token,
		"params":   params,
		"fields":   fields,
	}
	body, err := infra.DoPostJSON(ctx, s.Client(), url, payload, nil)
	if err != nil {
		return err
	}
	if err := decode(body, dest); err != nil {
		return fmt.Errorf("tushare %s: %w", apiName, err)
	}
	if dest.Code != 0 {
		// Quota exhaustion surfaces here; keep the message intact so
		// the breaker's ban heuristics can see rate-limit phrases.
		return fmt.Errorf("tushare %s: api error %d: %s", apiName, dest.Code, dest.Msg)
	}
	return nil
}

// Daily fetches the daily bar series. Tushare serves mainland listings only.
func (s *Source) Daily(ctx context.Context, sym market.Symbol, start, end time.Time) (*market.CandleSeries, error) {
	if !sym.IsAShare() {
		return nil, fetcher.ErrUnsupportedMarket
	}
	if end.IsZero() {
		end = time.Now()
	}
	if start.IsZero() {
		start = end.AddDate(0, -4, 0)
	}

	var resp apiResponse
	err := s.api(ctx, "daily", map[string]string{
		"ts_code":    sym.TushareCode(),
		"start_date": start.Format("20060102"),
		"end_date":   end.Format("20060102"),
	}, "trade_date,open,high,low,close,vol,amount,pct_chg", &resp)
	if err != nil {
		return nil, err
	}
	if resp.Data == nil || len(resp.Data.Items) == 0 {
		return nil, fmt.Errorf("tushare daily %s: no data", sym.Code)
	}

	col := columnIndex(resp.Data.Fields)
	series := &market.CandleSeries{Code: sym.Code}
	for _, row := range resp.Data.Items {
		date, err := time.Parse("20060102", str(row, col.at("trade_date")))
		if err != nil {
			return nil, fmt.Errorf("tushare daily %s: bad trade_date in row", sym.Code)
		}
		series.Candles = append(series.Candles, market.Candle{
			Date:   date,
			Open:   f64(row, col.at("open")),
			High:   f64(row, col.at("high")),
			Low:    f64(row, col.at("low")),
			Close:  f64(row, col.at("close")),
			Volume: int64(f64(row, col.at("vol")) * 100),     // 手 → shares
			Amount: f64(row, col.at("amount")) * 1000,        // 千元 → yuan
			PctChg: f64(row, col.at("pct_chg")),
		})
	}
	series.Normalize()
	if err := series.Validate(); err != nil {
		return nil, fmt.Errorf("tushare daily %s: %w", sym.Code, err)
	}
	return series, nil
}

// StockName resolves one display name via stock_basic.
func (s *Source) StockName(ctx context.Context, sym market.Symbol) (string, error) {
	if !sym.IsAShare() {
		return "", nil
	}
	var resp apiResponse
	err := s.api(ctx, "stock_basic", map[string]string{"ts_code": sym.TushareCode()}, "ts_code,name", &resp)
	if err != nil {
		return "", err
	}
	if resp.Data == nil || len(resp.Data.Items) == 0 {
		return "", nil
	}
	col := columnIndex(resp.Data.Fields)
	return str(resp.Data.Items[0], col.at("name")), nil
}

// StockList pulls the full listing in one call.
func (s *Source) StockList(ctx context.Context) (map[string]string, error) {
	var resp apiResponse
	err := s.api(ctx, "stock_basic", map[string]string{"list_status": "L"}, "symbol,name", &resp)
	if err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return nil, nil
	}
	col := columnIndex(resp.Data.Fields)
	out := make(map[string]string, len(resp.Data.Items))
	for _, row := range resp.Data.Items {
		code := str(row, col.at("symbol"))
		if code != "" {
			out[code] = str(row, col.at("name"))
		}
	}
	return out, nil
}

// --- row helpers ---

func decode(body []byte, dest any) error {
	return json.Unmarshal(body, dest)
}

// columns maps field names to row indexes; unknown names resolve to -1.
type columns map[string]int

func columnIndex(fields []string) columns {
	m := make(columns, len(fields))
	for i, f := range fields {
		m[f] = i
	}
	return m
}

func (c columns) at(name string) int {
	if i, ok := c[name]; ok {
		return i
	}
	return -1
}

func str(row []any, i int) string {
	if i < 0 || i >= len(row) || row[i] == nil {
		return ""
	}
	if s, ok := row[i].(string); ok {
		return s
	}
	return fmt.Sprint(row[i])
}

func f64(row []any, i int) float64 {
	if i < 0 || i >= len(row) || row[i] == nil {
		return 0
	}
	switch v := row[i].(type) {
	case float64:
		return v
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	}
	return 0
}
