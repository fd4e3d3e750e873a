// Package baostock implements the session-based daily-history source.
// Every operation brackets its queries with login/logout; the session is
// scoped to a single call and released on every exit path, including
// failures mid-query. Volumes arrive in shares and amounts in yuan, so no
// unit conversion is needed.
package baostock

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/seenimoa/stockwatch/internal/fetcher"
	"github.com/seenimoa/stockwatch/internal/infra"
	"github.com/seenimoa/stockwatch/internal/market"
)

const (
	sourceName     = "baostock"
	defaultBaseURL = "http://www.baostock.com/api/v1"
)

type envelope struct {
	ErrorCode string `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`
	SessionID string `json:"session_id,omitempty"`
	Data      *struct {
		Fields []string   `json:"fields"`
		Items  [][]string `json:"items"`
	} `json:"data,omitempty"`
}

// Source is the Baostock data source.
type Source struct {
	fetcher.BaseSource
	baseURL string
}

// New builds the source.
func New(priority int, gate *infra.RateGate, client *http.Client) *Source {
	return &Source{
		BaseSource: fetcher.NewBaseSource(sourceName, priority, gate, client),
		baseURL:    defaultBaseURL,
	}
}

// session is a logged-in handle. Close is idempotent and safe on every
// exit path.
type session struct {
	src    *Source
	id     string
	closed bool
}

func (s *Source) login(ctx context.Context) (*session, error) {
	if err := s.Wait(ctx); err != nil {
		return nil, err
	}
	body, err := infra.DoPostJSON(ctx, s.Client(), s.baseURL+"/login", map[string]string{"user": "anonymous"}, nil)
	if err != nil {
		return nil, fmt.Errorf("baostock login: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("baostock login: parse: %w", err)
	}
	if env.ErrorCode != "0" || env.SessionID == "" {
		return nil, fmt.Errorf("baostock login rejected: %s %s", env.ErrorCode, env.ErrorMsg)
	}
	return &session{src: s, id: env.SessionID}, nil
}

// Close logs the session out. Errors are logged, not returned: the data
// already fetched is not invalidated by a failed logout.
func (sess *session) Close() {
	if sess.closed {
		return
	}
	sess.closed = true
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := infra.DoPostJSON(ctx, sess.src.Client(), sess.src.baseURL+"/logout",
		map[string]string{"session_id": sess.id}, nil)
	if err != nil {
		sess.src.Log().Debug().Err(err).Msg("logout failed")
	}
}

func (sess *session) query(ctx context.Context, path string, params url.Values) (*envelope, error) {
	params.Set("session_id", sess.id)
	body, err := infra.DoGet(ctx, sess.src.Client(), sess.src.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("baostock: parse: %w", err)
	}
	if env.ErrorCode != "0" {
		return nil, fmt.Errorf("baostock: query error %s: %s", env.ErrorCode, env.ErrorMsg)
	}
	return &env, nil
}

// Daily fetches the daily series. Mainland listings only.
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

	sess, err := s.login(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	params := url.Values{}
	params.Set("code", sym.BaostockCode())
	params.Set("fields", "date,open,high,low,close,volume,amount,pctChg")
	params.Set("start_date", start.Format("2006-01-02"))
	params.Set("end_date", end.Format("2006-01-02"))
	params.Set("frequency", "d")
	params.Set("adjustflag", "2") // forward adjusted

	env, err := sess.query(ctx, "/query_history_k_data", params)
	if err != nil {
		return nil, err
	}
	if env.Data == nil || len(env.Data.Items) == 0 {
		return nil, fmt.Errorf("baostock daily %s: no data", sym.Code)
	}

	idx := make(map[string]int, len(env.Data.Fields))
	for i, f := range env.Data.Fields {
		idx[f] = i
	}
	series := &market.CandleSeries{Code: sym.Code}
	for _, row := range env.Data.Items {
		c, err := parseRow(row, idx)
		if err != nil {
			return nil, fmt.Errorf("baostock daily %s: %w", sym.Code, err)
		}
		series.Candles = append(series.Candles, c)
	}
	series.Normalize()
	if err := series.Validate(); err != nil {
		return nil, fmt.Errorf("baostock daily %s: %w", sym.Code, err)
	}
	return series, nil
}

func parseRow(row []string, idx map[string]int) (market.Candle, error) {
	get := func(name string) string {
		if i, ok := idx[name]; ok && i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}
	date, err := time.Parse("2006-01-02", get("date"))
	if err != nil {
		return market.Candle{}, fmt.Errorf("bad date %q", get("date"))
	}
	vol, _ := strconv.ParseFloat(get("volume"), 64)
	return market.Candle{
		Date:   date,
		Open:   num(get("open")),
		High:   num(get("high")),
		Low:    num(get("low")),
		Close:  num(get("close")),
		Volume: int64(vol),
		Amount: num(get("amount")),
		PctChg: num(get("pctChg")),
	}, nil
}

func num(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

// StockName resolves the display name via query_stock_basic, inside its
// own session bracket.
func (s *Source) StockName(ctx context.Context, sym market.Symbol) (string, error) {
	if !sym.IsAShare() {
		return "", nil
	}
	sess, err := s.login(ctx)
	if err != nil {
		return "", err
	}
	defer sess.Close()

	params := url.Values{}
	params.Set("code", sym.BaostockCode())
	env, err := sess.query(ctx, "/query_stock_basic", params)
	if err != nil {
		return "", err
	}
	if env.Data == nil || len(env.Data.Items) == 0 {
		return "", nil
	}
	for i, f := range env.Data.Fields {
		if f == "code_name" && i < len(env.Data.Items[0]) {
			return env.Data.Items[0][i], nil
		}
	}
	return "", nil
}

// StockList is intentionally not served: a full listing pull is a paged,
// slow query on this upstream and bulk naming is better served elsewhere.
func (s *Source) StockList(ctx context.Context) (map[string]string, error) {
	return nil, nil
}
