package analysis

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/seenimoa/stockwatch/internal/market"
	"github.com/seenimoa/stockwatch/internal/search"
)

// fakeData scripts the fetcher manager.
type fakeData struct {
	dailyFn func(sym market.Symbol) (*market.CandleSeries, error)
	quoteFn func(sym market.Symbol) (*market.RealtimeQuote, error)
	chipsFn func(sym market.Symbol) (*market.ChipDistribution, error)

	mu        sync.Mutex
	prefetchN int
}

func (f *fakeData) Daily(_ context.Context, sym market.Symbol, _, _ time.Time) (*market.CandleSeries, error) {
	if f.dailyFn != nil {
		return f.dailyFn(sym)
	}
	return seriesFor(sym.Code, "eastmoney"), nil
}

func (f *fakeData) Quote(_ context.Context, sym market.Symbol) (*market.RealtimeQuote, error) {
	if f.quoteFn != nil {
		return f.quoteFn(sym)
	}
	return nil, nil
}

func (f *fakeData) Chips(_ context.Context, sym market.Symbol) (*market.ChipDistribution, error) {
	if f.chipsFn != nil {
		return f.chipsFn(sym)
	}
	return nil, nil
}

func (f *fakeData) BatchNames(_ context.Context, syms []market.Symbol) map[string]string {
	out := make(map[string]string)
	for _, s := range syms {
		out[s.Code] = "测试股"
	}
	return out
}

func (f *fakeData) PrefetchQuotes(context.Context, []market.Symbol) {
	f.mu.Lock()
	f.prefetchN++
	f.mu.Unlock()
}

func seriesFor(code, source string) *market.CandleSeries {
	s := &market.CandleSeries{Code: code, Source: source}
	base := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 30; i++ {
		price := 100 + float64(i)
		s.Candles = append(s.Candles, market.Candle{
			Date: base.AddDate(0, 0, i), Open: price, High: price + 1,
			Low: price - 1, Close: price, Volume: 1000, Amount: price * 1000,
		})
	}
	return s
}

// memStore records persisted results.
type memStore struct {
	mu      sync.Mutex
	results []*AnalysisResult
	err     error
}

func (m *memStore) InsertAnalysis(_ context.Context, r *AnalysisResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, r)
	return m.err
}

// memNotify records deliveries.
type memNotify struct {
	mu     sync.Mutex
	stocks []*AnalysisResult
	batch  [][]*AnalysisResult
}

func (m *memNotify) SendStock(_ context.Context, r *AnalysisResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stocks = append(m.stocks, r)
	return nil
}

func (m *memNotify) SendBatch(_ context.Context, rs []*AnalysisResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batch = append(m.batch, rs)
	return nil
}

type fixedSearch struct{ items []search.NewsItem }

func (s *fixedSearch) Search(context.Context, string, int) ([]search.NewsItem, error) {
	return s.items, nil
}

func newTestPipeline(data *fakeData, store *memStore, notify *memNotify, srch Searcher) *Pipeline {
	var st Recorder
	if store != nil {
		st = store
	}
	var nt Notifier
	if notify != nil {
		nt = notify
	}
	return NewPipeline(PipelineOptions{
		Data:     data,
		Analyzer: NewAnalyzer(nil, nil), // template mode keeps tests hermetic
		Search:   srch,
		Store:    st,
		Notify:   nt,
		Workers:  2,
	})
}

func TestProcessSingleHappyPath(t *testing.T) {
	data := &fakeData{
		quoteFn: func(sym market.Symbol) (*market.RealtimeQuote, error) {
			return newQuote(sym.Code, "tencent", 129, 0.8), nil
		},
	}
	store := &memStore{}
	notify := &memNotify{}
	p := newTestPipeline(data, store, notify, &fixedSearch{items: []search.NewsItem{{Title: "利好"}}})

	res := p.ProcessSingle(context.Background(), "600519", true)
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if res.Name != "测试股" || res.Code != "600519" {
		t.Errorf("identity = %s/%s", res.Code, res.Name)
	}
	if res.QueryID == "" {
		t.Error("result has no query id")
	}
	if res.SentimentScore < 0 || res.SentimentScore > 100 {
		t.Errorf("sentiment = %v", res.SentimentScore)
	}
	if res.Snapshot == nil || res.Snapshot.Source != "tencent" {
		t.Errorf("snapshot = %+v", res.Snapshot)
	}
	if !res.SearchPerformed || len(res.News) != 1 {
		t.Errorf("search fields = %v/%d", res.SearchPerformed, len(res.News))
	}
	if len(res.DataSources) != 2 || res.DataSources[0] != "eastmoney" || res.DataSources[1] != "tencent" {
		t.Errorf("data sources = %v", res.DataSources)
	}
	if len(store.results) != 1 {
		t.Errorf("persisted %d results", len(store.results))
	}
	if len(notify.stocks) != 1 {
		t.Errorf("notified %d times", len(notify.stocks))
	}
}

func TestProcessSingleMissingHistoryFails(t *testing.T) {
	data := &fakeData{
		dailyFn: func(market.Symbol) (*market.CandleSeries, error) {
			return nil, errors.New("all sources down")
		},
	}
	store := &memStore{}
	p := newTestPipeline(data, store, nil, nil)

	res := p.ProcessSingle(context.Background(), "600519", false)
	if res.Success {
		t.Fatal("missing history must fail the result")
	}
	if res.ErrorMessage == "" {
		t.Error("failed result needs an error message")
	}
	if len(store.results) != 1 {
		t.Errorf("failed result not persisted")
	}
}

func TestProcessSingleQuoteFailureDegrades(t *testing.T) {
	data := &fakeData{
		quoteFn: func(market.Symbol) (*market.RealtimeQuote, error) {
			return nil, errors.New("quote sources down")
		},
	}
	p := newTestPipeline(data, nil, nil, nil)

	res := p.ProcessSingle(context.Background(), "600519", false)
	if !res.Success {
		t.Fatalf("quote failure must not fail the result: %+v", res)
	}
	if res.Snapshot != nil {
		t.Error("no snapshot expected without a quote")
	}
}

func TestProcessSingleBadCode(t *testing.T) {
	p := newTestPipeline(&fakeData{}, nil, nil, nil)
	res := p.ProcessSingle(context.Background(), "not-a-code", false)
	if res.Success {
		t.Fatal("unclassifiable code must fail")
	}
}

func TestProcessQueryKeepsCallerID(t *testing.T) {
	store := &memStore{}
	p := newTestPipeline(&fakeData{}, store, nil, nil)

	res := p.ProcessQuery(context.Background(), "600519_20260824093000.000001", "600519", false)
	if !res.Success || res.QueryID != "600519_20260824093000.000001" {
		t.Fatalf("result = %+v", res)
	}
	if len(store.results) != 1 || store.results[0].QueryID != res.QueryID {
		t.Errorf("persisted = %+v", store.results)
	}

	// Failed results carry the id too, so the history row stays joinable.
	res = p.ProcessQuery(context.Background(), "task-2", "not-a-code", false)
	if res.Success || res.QueryID != "task-2" {
		t.Errorf("failed result = %+v", res)
	}
}

func TestRunBatch(t *testing.T) {
	data := &fakeData{}
	notify := &memNotify{}
	p := newTestPipeline(data, nil, notify, nil)

	codes := []string{"600519", "000001", "300750", "601318", "600036"}
	results := p.Run(context.Background(), codes)
	if len(results) != len(codes) {
		t.Fatalf("results = %d, want %d", len(results), len(codes))
	}
	for i, r := range results {
		if r == nil || r.Code != codes[i] {
			t.Errorf("results[%d] = %+v, want code %s", i, r, codes[i])
		}
	}
	if results[0].QueryID == "" {
		t.Error("batch results have no query id")
	}
	for i, r := range results[1:] {
		if r.QueryID != results[0].QueryID {
			t.Errorf("results[%d] query id = %q, want %q", i+1, r.QueryID, results[0].QueryID)
		}
	}
	if data.prefetchN != 1 {
		t.Errorf("prefetch calls = %d, want 1", data.prefetchN)
	}
	if len(notify.batch) != 1 || len(notify.batch[0]) != len(codes) {
		t.Errorf("batch notify = %+v", notify.batch)
	}
	if len(notify.stocks) != 0 {
		t.Errorf("batch run must not send single-stock notifications, got %d", len(notify.stocks))
	}
}

func TestRunIsolatesFailures(t *testing.T) {
	data := &fakeData{
		dailyFn: func(sym market.Symbol) (*market.CandleSeries, error) {
			if sym.Code == "000001" {
				return nil, errors.New("down")
			}
			return seriesFor(sym.Code, "eastmoney"), nil
		},
	}
	p := newTestPipeline(data, nil, nil, nil)

	results := p.Run(context.Background(), []string{"600519", "000001", "300750"})
	if !results[0].Success || results[1].Success || !results[2].Success {
		t.Errorf("isolation broken: %v %v %v",
			results[0].Success, results[1].Success, results[2].Success)
	}
}

// memSnapshots records archived model inputs.
type memSnapshots struct {
	mu      sync.Mutex
	codes   []string
	prompts []string
}

func (m *memSnapshots) SaveContextSnapshot(_ context.Context, code, prompt string, _ any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes = append(m.codes, code)
	m.prompts = append(m.prompts, prompt)
	return nil
}

func TestProcessSingleArchivesContext(t *testing.T) {
	snaps := &memSnapshots{}
	p := NewPipeline(PipelineOptions{
		Data:      &fakeData{},
		Analyzer:  NewAnalyzer(nil, nil),
		Snapshots: snaps,
		Workers:   1,
	})

	res := p.ProcessSingle(context.Background(), "600519", false)
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if len(snaps.codes) != 1 || snaps.codes[0] != "600519" {
		t.Fatalf("snapshot codes = %v", snaps.codes)
	}
	if !strings.Contains(snaps.prompts[0], "600519") {
		t.Errorf("archived prompt missing symbol: %q", snaps.prompts[0])
	}
}

func TestRunSingleNotifyMode(t *testing.T) {
	notify := &memNotify{}
	p := NewPipeline(PipelineOptions{
		Data:         &fakeData{},
		Analyzer:     NewAnalyzer(nil, nil),
		Notify:       notify,
		Workers:      2,
		SingleNotify: true,
	})

	codes := []string{"600519", "000001"}
	p.Run(context.Background(), codes)
	if len(notify.stocks) != len(codes) {
		t.Errorf("single notifications = %d, want %d", len(notify.stocks), len(codes))
	}
	if len(notify.batch) != 1 {
		t.Errorf("batch notifications = %d, want 1", len(notify.batch))
	}
}
