// Package eastmoney implements the snapshot-oriented data source backed by
// the EastMoney push2 endpoints. One clist call returns the whole A-share
// market, so realtime quotes are served out of a TTL-cached snapshot and a
// batch of symbols costs a single upstream request. The source also covers
// daily klines, chip distribution, index quotes, market breadth, and sector
// rankings.
package eastmoney

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/seenimoa/stockwatch/internal/fetcher"
	"github.com/seenimoa/stockwatch/internal/infra"
	"github.com/seenimoa/stockwatch/internal/market"
)

const (
	sourceName = "eastmoney"

	snapshotKey = "eastmoney:snapshot"

	clistURL = "https://push2.eastmoney.com/api/qt/clist/get?pn=1&pz=50000&po=1&np=1&fltt=2&invt=2" +
		"&fs=m:0+t:6,m:0+t:80,m:1+t:2,m:1+t:23&fields=f2,f3,f4,f5,f6,f8,f9,f10,f12,f14,f15,f16,f17,f18,f20,f21,f23"
	sectorURL = "https://push2.eastmoney.com/api/qt/clist/get?pn=1&pz=%d&po=1&np=1&fltt=2&invt=2" +
		"&fs=m:90+t:2&fields=f3,f12,f14,f128"
	indexURL = "https://push2.eastmoney.com/api/qt/ulist.np/get?fltt=2&invt=2&np=1" +
		"&secids=1.000001,0.399001,0.399006,1.000300,1.000688&fields=f2,f3,f4,f5,f6,f12,f14"
	klineURL = "https://push2his.eastmoney.com/api/qt/stock/kline/get?secid=%s&klt=101&fqt=1" +
		"&beg=%s&end=%s&fields1=f1,f2,f3,f4,f5,f6&fields2=f51,f52,f53,f54,f55,f56,f57,f58,f59,f60,f61"
	cyqURL = "https://push2ex.eastmoney.com/getStockCYQData?secid=%s&count=1&dpt=wzchanquan"
)

// jsonNum decodes numbers that may arrive as "-" for suspended stocks.
type jsonNum float64

func (n *jsonNum) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "-" || s == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*n = 0
		return nil
	}
	*n = jsonNum(v)
	return nil
}

func (n jsonNum) F() float64 { return float64(n) }

// Source is the EastMoney data source.
type Source struct {
	fetcher.BaseSource
	cache   *infra.Cache
	baseURL string // test override; empty in production
}

// New builds the source. snapshotTTL bounds how stale a served quote can be.
func New(priority int, gate *infra.RateGate, client *http.Client, snapshotTTL time.Duration) *Source {
	return &Source{
		BaseSource: fetcher.NewBaseSource(sourceName, priority, gate, client),
		cache:      infra.NewCache(snapshotTTL),
	}
}

func (s *Source) url(u string) string {
	if s.baseURL == "" {
		return u
	}
	// Keep path+query, swap host for the test server.
	i := strings.Index(u, "/api/")
	if i < 0 {
		if j := strings.Index(u, "/getStockCYQData"); j >= 0 {
			return s.baseURL + u[j:]
		}
		return s.baseURL
	}
	return s.baseURL + u[i:]
}

func (s *Source) fetchJSON(ctx context.Context, url string, dest any) error {
	if err := s.Wait(ctx); err != nil {
		return err
	}
	body, err := infra.DoGet(ctx, s.Client(), s.url(url), map[string]string{
		"Referer": "https://quote.eastmoney.com/",
	})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("eastmoney: parse response: %w", err)
	}
	return nil
}

// snapshot returns the whole-market quote map, filling it at most once per
// TTL window across concurrent callers. A failed pull caches empty so the
// rest of the batch fails fast instead of re-pulling.
func (s *Source) snapshot(ctx context.Context) (map[string]*market.RealtimeQuote, error) {
	v, err := s.cache.GetOrFill(ctx, snapshotKey, func(ctx context.Context) (any, error) {
		var resp clistResponse
		if err := s.fetchJSON(ctx, clistURL, &resp); err != nil {
			return nil, err
		}
		if resp.Data == nil {
			return nil, fmt.Errorf("eastmoney: empty clist response")
		}
		now := time.Now()
		snap := make(map[string]*market.RealtimeQuote, len(resp.Data.Diff))
		for _, it := range resp.Data.Diff {
			snap[it.Code] = &market.RealtimeQuote{
				Code:         it.Code,
				Name:         it.Name,
				Source:       sourceName,
				Price:        it.Price.F(),
				ChangePct:    it.ChangePct.F(),
				ChangeAmount: it.Change.F(),
				Volume:       int64(it.Volume.F() * 100), // lots → shares
				Amount:       it.Amount.F(),
				TurnoverRate: it.Turnover.F(),
				PE:           it.PE.F(),
				VolumeRatio:  it.VolumeRatio.F(),
				High:         it.High.F(),
				Low:          it.Low.F(),
				Open:         it.Open.F(),
				PrevClose:    it.PrevClose.F(),
				TotalMV:      it.TotalMV.F(),
				CircMV:       it.CircMV.F(),
				PB:           it.PB.F(),
				Timestamp:    now,
			}
		}
		s.Log().Debug().Int("stocks", len(snap)).Msg("market snapshot refreshed")
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	snap, _ := v.(map[string]*market.RealtimeQuote)
	return snap, nil
}

// WarmSnapshot pre-pulls the whole-market snapshot ahead of a batch.
func (s *Source) WarmSnapshot(ctx context.Context) error {
	_, err := s.snapshot(ctx)
	return err
}

// Quote serves a realtime quote out of the snapshot. Foreign symbols and
// codes absent from the market return (nil, nil).
func (s *Source) Quote(ctx context.Context, sym market.Symbol) (*market.RealtimeQuote, error) {
	if sym.IsUS() || sym.Market == market.MarketTW || sym.Market == market.MarketHK {
		return nil, nil
	}
	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap[sym.Code], nil
}

// Daily fetches the forward-adjusted daily kline series.
func (s *Source) Daily(ctx context.Context, sym market.Symbol, start, end time.Time) (*market.CandleSeries, error) {
	if sym.Market == market.MarketTW {
		return nil, fetcher.ErrUnsupportedMarket
	}
	if end.IsZero() {
		end = time.Now()
	}
	if start.IsZero() {
		start = end.AddDate(0, -4, 0)
	}
	url := fmt.Sprintf(klineURL, sym.EastmoneySecID(), start.Format("20060102"), end.Format("20060102"))

	var resp klineResponse
	if err := s.fetchJSON(ctx, url, &resp); err != nil {
		return nil, err
	}
	if resp.Data == nil || len(resp.Data.Klines) == 0 {
		return nil, fmt.Errorf("eastmoney kline %s: no data", sym.Code)
	}

	series := &market.CandleSeries{Code: sym.Code}
	for _, line := range resp.Data.Klines {
		c, err := parseKline(line)
		if err != nil {
			return nil, fmt.Errorf("eastmoney kline %s: %w", sym.Code, err)
		}
		series.Candles = append(series.Candles, c)
	}
	series.Normalize()
	if err := series.Validate(); err != nil {
		return nil, fmt.Errorf("eastmoney kline %s: %w", sym.Code, err)
	}
	return series, nil
}

// parseKline parses one comma-joined kline row:
// date,open,close,high,low,volume,amount,amplitude,pct,change,turnover.
func parseKline(line string) (market.Candle, error) {
	parts := strings.Split(line, ",")
	if len(parts) < 9 {
		return market.Candle{}, fmt.Errorf("short kline row %q", line)
	}
	date, err := time.Parse("2006-01-02", parts[0])
	if err != nil {
		return market.Candle{}, fmt.Errorf("bad kline date %q", parts[0])
	}
	vol, _ := strconv.ParseFloat(parts[5], 64)
	return market.Candle{
		Date:   date,
		Open:   num(parts[1]),
		Close:  num(parts[2]),
		High:   num(parts[3]),
		Low:    num(parts[4]),
		Volume: int64(vol * 100), // lots → shares
		Amount: num(parts[6]),
		PctChg: num(parts[8]),
	}, nil
}

func num(s string) float64 {
	v, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return v
}

// Chips fetches the latest chip (cost-basis) distribution row.
func (s *Source) Chips(ctx context.Context, sym market.Symbol) (*market.ChipDistribution, error) {
	var resp cyqResponse
	if err := s.fetchJSON(ctx, fmt.Sprintf(cyqURL, sym.EastmoneySecID()), &resp); err != nil {
		return nil, err
	}
	if resp.Data == nil || len(resp.Data.Data) == 0 {
		return nil, nil
	}
	it := resp.Data.Data[len(resp.Data.Data)-1]
	date, _ := time.Parse("20060102", strconv.Itoa(it.Date))
	return &market.ChipDistribution{
		Code:            sym.Code,
		Date:            date,
		ProfitRatio:     it.ProfitRatio,
		AvgCost:         it.AvgCost,
		Cost90Low:       it.Cost90Low,
		Cost90High:      it.Cost90High,
		Concentration90: it.Concentration90,
		Cost70Low:       it.Cost70Low,
		Cost70High:      it.Cost70High,
		Concentration70: it.Concentration70,
	}, nil
}

// StockName serves the display name out of the snapshot.
func (s *Source) StockName(ctx context.Context, sym market.Symbol) (string, error) {
	q, err := s.Quote(ctx, sym)
	if err != nil || q == nil {
		return "", err
	}
	return q.Name, nil
}

// StockList returns the code→name listing for the whole market.
func (s *Source) StockList(ctx context.Context) (map[string]string, error) {
	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(snap))
	for code, q := range snap {
		out[code] = q.Name
	}
	return out, nil
}

// Indices returns the major composite index quotes.
func (s *Source) Indices(ctx context.Context) ([]market.IndexQuote, error) {
	var resp clistResponse
	if err := s.fetchJSON(ctx, indexURL, &resp); err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return nil, nil
	}
	out := make([]market.IndexQuote, 0, len(resp.Data.Diff))
	for _, it := range resp.Data.Diff {
		out = append(out, market.IndexQuote{
			Code:      it.Code,
			Name:      it.Name,
			Current:   it.Price.F(),
			Change:    it.Change.F(),
			ChangePct: it.ChangePct.F(),
			Volume:    int64(it.Volume.F() * 100),
			Amount:    it.Amount.F(),
		})
	}
	return out, nil
}

// MarketStats derives breadth statistics from the snapshot.
func (s *Source) MarketStats(ctx context.Context) (*market.MarketStats, error) {
	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if len(snap) == 0 {
		return nil, nil
	}
	stats := &market.MarketStats{}
	for _, q := range snap {
		stats.TotalAmount += q.Amount
		switch {
		case q.ChangePct > 0:
			stats.UpCount++
			if q.ChangePct >= limitUpThreshold(q.Code) {
				stats.LimitUpCount++
			}
		case q.ChangePct < 0:
			stats.DownCount++
			if q.ChangePct <= -limitUpThreshold(q.Code) {
				stats.LimitDownCount++
			}
		default:
			stats.FlatCount++
		}
	}
	return stats, nil
}

// limitUpThreshold approximates the daily price limit by board: 20% for
// STAR/ChiNext, 10% for the main boards. ST stocks are not distinguished.
func limitUpThreshold(code string) float64 {
	if strings.HasPrefix(code, "688") || strings.HasPrefix(code, "689") || strings.HasPrefix(code, "30") {
		return 19.85
	}
	return 9.9
}

// Sectors returns the top-n industry boards by daily change.
func (s *Source) Sectors(ctx context.Context, n int) ([]market.SectorRank, error) {
	if n <= 0 {
		n = 10
	}
	var resp clistResponse
	if err := s.fetchJSON(ctx, fmt.Sprintf(sectorURL, n), &resp); err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return nil, nil
	}
	out := make([]market.SectorRank, 0, len(resp.Data.Diff))
	for _, it := range resp.Data.Diff {
		out = append(out, market.SectorRank{
			Name:      it.Name,
			ChangePct: it.ChangePct.F(),
			LeadStock: it.LeadStock,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ChangePct > out[j].ChangePct })
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}
