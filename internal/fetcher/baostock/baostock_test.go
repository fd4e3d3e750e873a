package baostock

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/seenimoa/stockwatch/internal/market"
)

const kdataBody = `{"error_code":"0","data":{
 "fields":["date","open","high","low","close","volume","amount","pctChg"],
 "items":[
  ["2025-08-20","1690.00","1705.00","1688.00","1700.00","2500000","4250000000.00","0.59"],
  ["2025-08-21","1700.00","1710.00","1692.00","1695.00","2600000","4400000000.00","-0.29"]
 ]}}`

// sessionRecorder tracks the login/query/logout sequence.
type sessionRecorder struct {
	mu     sync.Mutex
	events []string
	failQ  bool
}

func (rec *sessionRecorder) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		switch r.URL.Path {
		case "/login":
			rec.events = append(rec.events, "login")
			w.Write([]byte(`{"error_code":"0","session_id":"sess-1"}`))
		case "/query_history_k_data":
			rec.events = append(rec.events, "query")
			if r.URL.Query().Get("session_id") != "sess-1" {
				t.Errorf("query without session: %s", r.URL.RawQuery)
			}
			if rec.failQ {
				w.Write([]byte(`{"error_code":"10001","error_msg":"query failed"}`))
				return
			}
			w.Write([]byte(kdataBody))
		case "/logout":
			rec.events = append(rec.events, "logout")
			w.Write([]byte(`{"error_code":"0"}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
		}
	})
}

func (rec *sessionRecorder) sequence() []string {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return append([]string(nil), rec.events...)
}

func newTestSource(t *testing.T, rec *sessionRecorder) *Source {
	t.Helper()
	srv := httptest.NewServer(rec.handler(t))
	t.Cleanup(srv.Close)
	s := New(1, nil, srv.Client())
	s.baseURL = srv.URL
	return s
}

func TestDailySessionBracketing(t *testing.T) {
	rec := &sessionRecorder{}
	s := newTestSource(t, rec)

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
	// Baostock units are already canonical: shares and yuan.
	if c.Volume != 2500000 || c.Amount != 4.25e9 {
		t.Errorf("units wrong: %+v", c)
	}

	want := []string{"login", "query", "logout"}
	got := rec.sequence()
	if len(got) != len(want) {
		t.Fatalf("sequence = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sequence = %v, want %v", got, want)
		}
	}
}

func TestDailyLogsOutOnQueryFailure(t *testing.T) {
	rec := &sessionRecorder{failQ: true}
	s := newTestSource(t, rec)

	sym, _ := market.Classify("600519")
	if _, err := s.Daily(context.Background(), sym, time.Time{}, time.Time{}); err == nil {
		t.Fatal("expected query error")
	}
	got := rec.sequence()
	if len(got) == 0 || got[len(got)-1] != "logout" {
		t.Fatalf("session leaked, sequence = %v", got)
	}
}

func TestDailyRejectsForeign(t *testing.T) {
	rec := &sessionRecorder{}
	s := newTestSource(t, rec)
	sym, _ := market.Classify("AAPL")
	if _, err := s.Daily(context.Background(), sym, time.Time{}, time.Time{}); err == nil {
		t.Fatal("expected unsupported market error")
	}
	if len(rec.sequence()) != 0 {
		t.Errorf("no session should have been opened: %v", rec.sequence())
	}
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	rec := &sessionRecorder{}
	s := newTestSource(t, rec)

	sess, err := s.login(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	sess.Close()
	sess.Close()

	logouts := 0
	for _, e := range rec.sequence() {
		if e == "logout" {
			logouts++
		}
	}
	if logouts != 1 {
		t.Errorf("logout sent %d times, want 1", logouts)
	}
}
