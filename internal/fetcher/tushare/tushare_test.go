package tushare

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/seenimoa/stockwatch/internal/fetcher"
	"github.com/seenimoa/stockwatch/internal/market"
)

const dailyBody = `{"code":0,"msg":null,"data":{
 "fields":["trade_date","open","high","low","close","vol","amount","pct_chg"],
 "items":[
  ["20250821",1700.0,1710.0,1692.0,1695.0,260.0,441000.0,-0.29],
  ["20250820",1690.0,1705.0,1688.0,1700.0,250.0,425000.0,0.59]
 ]}}`

func newTestSource(t *testing.T, handler http.Handler, token string) *Source {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	s := New(1, nil, srv.Client(), token)
	s.baseURL = srv.URL
	return s
}

func TestDailyParsesEnvelope(t *testing.T) {
	s := newTestSource(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if payload["api_name"] != "daily" || payload["token"] != "tok123" {
			t.Errorf("payload = %v", payload)
		}
		params := payload["params"].(map[string]any)
		if params["ts_code"] != "600519.SH" {
			t.Errorf("ts_code = %v", params["ts_code"])
		}
		w.Write([]byte(dailyBody))
	}), "tok123")

	sym, _ := market.Classify("600519")
	series, err := s.Daily(context.Background(), sym, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("Daily: %v", err)
	}
	if series.Len() != 2 {
		t.Fatalf("rows = %d", series.Len())
	}
	// Normalize sorted the reverse-chronological rows ascending.
	first := series.Candles[0]
	if !first.Date.Equal(time.Date(2025, 8, 20, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("first date = %v", first.Date)
	}
	if first.Volume != 25000 {
		t.Errorf("volume = %d, want 手*100", first.Volume)
	}
	if first.Amount != 425000000 {
		t.Errorf("amount = %v, want 千元*1000", first.Amount)
	}
}

func TestDailyRequiresToken(t *testing.T) {
	s := New(1, nil, http.DefaultClient, "")
	sym, _ := market.Classify("600519")
	if _, err := s.Daily(context.Background(), sym, time.Time{}, time.Time{}); err == nil {
		t.Fatal("expected error without token")
	}
}

func TestDailyRejectsForeign(t *testing.T) {
	s := New(1, nil, http.DefaultClient, "tok")
	sym, _ := market.Classify("AAPL")
	_, err := s.Daily(context.Background(), sym, time.Time{}, time.Time{})
	if !errors.Is(err, fetcher.ErrUnsupportedMarket) {
		t.Fatalf("err = %v", err)
	}
}

func TestAPIErrorSurfacesMessage(t *testing.T) {
	s := newTestSource(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":40203,"msg":"每分钟最多访问该接口2次, rate limit"}`))
	}), "tok123")

	sym, _ := market.Classify("600519")
	_, err := s.Daily(context.Background(), sym, time.Time{}, time.Time{})
	if err == nil {
		t.Fatal("expected api error")
	}
	// The quota message must survive for the breaker's ban heuristics.
	if got := err.Error(); !strings.Contains(got, "rate limit") {
		t.Errorf("err = %q", got)
	}
}

func TestStockList(t *testing.T) {
	s := newTestSource(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":0,"data":{"fields":["symbol","name"],
		 "items":[["600519","贵州茅台"],["000001","平安银行"]]}}`))
	}), "tok123")

	listing, err := s.StockList(context.Background())
	if err != nil {
		t.Fatalf("StockList: %v", err)
	}
	if listing["600519"] != "贵州茅台" || listing["000001"] != "平安银行" {
		t.Errorf("listing = %v", listing)
	}
}

func TestHasToken(t *testing.T) {
	if New(1, nil, nil, "").HasToken() {
		t.Error("empty token reported as present")
	}
	if !New(1, nil, nil, "tok").HasToken() {
		t.Error("token not detected")
	}
}
