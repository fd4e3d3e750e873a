package eastmoney

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/seenimoa/stockwatch/internal/market"
)

const clistBody = `{"data":{"total":2,"diff":[
  {"f12":"600519","f14":"贵州茅台","f2":1700.0,"f3":0.59,"f4":10.0,"f5":25000,"f6":4250000000.0,
   "f8":0.2,"f9":30.5,"f10":1.1,"f15":1712.0,"f16":1688.0,"f17":1692.5,"f18":1690.0,
   "f20":2135000000000.0,"f21":2135000000000.0,"f23":8.9},
  {"f12":"000001","f14":"平安银行","f2":"-","f3":-2.1,"f4":-0.25,"f5":120000,"f6":140000000.0,
   "f8":1.1,"f9":5.2,"f10":0.8,"f15":11.9,"f16":11.5,"f17":11.8,"f18":11.9,
   "f20":230000000000.0,"f21":180000000000.0,"f23":0.6}
]}}`

const klineBody = `{"data":{"code":"600519","name":"贵州茅台","klines":[
"2025-08-20,1690.00,1700.00,1705.00,1688.00,25000,4250000000.00,1.01,0.59,10.00,0.20",
"2025-08-21,1700.00,1695.00,1710.00,1692.00,26000,4400000000.00,1.06,-0.29,-5.00,0.21"
]}}`

func newTestSource(t *testing.T, handler http.Handler) (*Source, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	s := New(1, nil, srv.Client(), time.Minute)
	s.baseURL = srv.URL
	return s, srv
}

func TestQuoteFromSnapshot(t *testing.T) {
	var hits int32
	s, _ := newTestSource(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "clist") {
			atomic.AddInt32(&hits, 1)
			w.Write([]byte(clistBody))
			return
		}
		http.NotFound(w, r)
	}))

	sym, _ := market.Classify("600519")
	q, err := s.Quote(context.Background(), sym)
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if q == nil || q.Price != 1700 || q.Name != "贵州茅台" {
		t.Fatalf("q = %+v", q)
	}
	if q.Volume != 2500000 {
		t.Errorf("volume = %d, want lots*100", q.Volume)
	}

	// Second symbol served from the cached snapshot, no extra upstream hit.
	sym2, _ := market.Classify("000001")
	q2, err := s.Quote(context.Background(), sym2)
	if err != nil {
		t.Fatalf("Quote #2: %v", err)
	}
	// Suspended stock: "-" price decoded as zero.
	if q2 == nil || q2.HasBasicData() {
		t.Errorf("suspended quote = %+v", q2)
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Errorf("snapshot pulled %d times, want 1", n)
	}

	// Unknown code is absence, still no extra pull.
	sym3, _ := market.Classify("300750")
	if q3, err := s.Quote(context.Background(), sym3); q3 != nil || err != nil {
		t.Errorf("unknown code = %v, %v", q3, err)
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Errorf("snapshot pulled %d times after misses, want 1", n)
	}
}

func TestQuoteForeignIsAbsent(t *testing.T) {
	s, _ := newTestSource(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("foreign symbol must not hit upstream")
	}))
	sym, _ := market.Classify("AAPL")
	if q, err := s.Quote(context.Background(), sym); q != nil || err != nil {
		t.Errorf("Quote(AAPL) = %v, %v", q, err)
	}
}

func TestDailyParsesKlines(t *testing.T) {
	s, _ := newTestSource(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.RawQuery, "secid=1.600519") {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		w.Write([]byte(klineBody))
	}))

	sym, _ := market.Classify("600519")
	series, err := s.Daily(context.Background(), sym,
		time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 8, 22, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Daily: %v", err)
	}
	if series.Len() != 2 {
		t.Fatalf("rows = %d", series.Len())
	}
	c := series.Candles[0]
	if c.Open != 1690 || c.Close != 1700 || c.High != 1705 || c.Low != 1688 {
		t.Errorf("ohlc = %+v", c)
	}
	if c.Volume != 2500000 {
		t.Errorf("volume = %d, want lots*100", c.Volume)
	}
	if c.PctChg != 0.59 {
		t.Errorf("pct_chg = %v", c.PctChg)
	}
	if err := series.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestMarketStatsFromSnapshot(t *testing.T) {
	s, _ := newTestSource(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(clistBody))
	}))
	stats, err := s.MarketStats(context.Background())
	if err != nil {
		t.Fatalf("MarketStats: %v", err)
	}
	if stats.UpCount != 1 || stats.DownCount != 1 || stats.FlatCount != 0 {
		t.Errorf("breadth = %+v", stats)
	}
	if stats.TotalAmount <= 0 {
		t.Errorf("total amount = %v", stats.TotalAmount)
	}
}

func TestStockListFromSnapshot(t *testing.T) {
	s, _ := newTestSource(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(clistBody))
	}))
	listing, err := s.StockList(context.Background())
	if err != nil {
		t.Fatalf("StockList: %v", err)
	}
	if listing["600519"] != "贵州茅台" || listing["000001"] != "平安银行" {
		t.Errorf("listing = %v", listing)
	}
}

func TestSnapshotFailureCachesEmpty(t *testing.T) {
	var hits int32
	s, _ := newTestSource(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	sym, _ := market.Classify("600519")
	if _, err := s.Quote(context.Background(), sym); err == nil {
		t.Fatal("expected error on first pull")
	}
	// Failure is cached: the rest of the batch must not re-pull.
	if q, err := s.Quote(context.Background(), sym); q != nil || err != nil {
		t.Errorf("second quote = %v, %v; want cached absence", q, err)
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Errorf("upstream hit %d times, want 1", n)
	}
}
