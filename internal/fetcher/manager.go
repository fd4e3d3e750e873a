package fetcher

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/seenimoa/stockwatch/internal/infra"
	"github.com/seenimoa/stockwatch/internal/market"
)

const (
	chipsBreakerKey = "chips"
	retryAttempts   = 3
	// snapshotPrefetchMin is the batch size below which warming the
	// whole-market snapshot costs more than per-symbol quotes.
	snapshotPrefetchMin = 5
)

// DefaultQuotePriority is the quote-source preference order used when
// REALTIME_SOURCE_PRIORITY is not configured. Entries naming sources that
// are not registered are skipped.
var DefaultQuotePriority = []string{"tencent", "sina", "eastmoney", "tushare"}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Breakers      *infra.BreakerSet
	QuotePriority []string // preference order for Quote; defaults to DefaultQuotePriority
	ForeignSource string   // source name serving US/TW symbols; default "yahoo"
	EnableChips   bool
}

// Manager routes each data request across the registered sources: sorted
// priority failover for history and aggregates, a configured preference
// list for quotes, circuit breaking and retry around every upstream call.
// Registration happens once at startup; afterwards the Manager is safe for
// concurrent use.
type Manager struct {
	breakers      *infra.BreakerSet
	quotePriority []string
	foreignName   string
	enableChips   bool

	daily   []DailyFetcher
	quotes  []QuoteFetcher
	chips   []ChipsFetcher
	names   []NameFetcher
	markets []MarketFetcher

	nameCache sync.Map // code → name
}

// NewManager builds a Manager. A nil Breakers gets a fresh set with a
// one-minute cooldown.
func NewManager(opts ManagerOptions) *Manager {
	if opts.Breakers == nil {
		opts.Breakers = infra.NewBreakerSet(time.Minute)
	}
	if len(opts.QuotePriority) == 0 {
		opts.QuotePriority = DefaultQuotePriority
	}
	if opts.ForeignSource == "" {
		opts.ForeignSource = "yahoo"
	}
	return &Manager{
		breakers:      opts.Breakers,
		quotePriority: opts.QuotePriority,
		foreignName:   opts.ForeignSource,
		enableChips:   opts.EnableChips,
	}
}

// Register adds a source to every capability it implements.
func (m *Manager) Register(src Source) {
	if f, ok := src.(DailyFetcher); ok {
		m.daily = append(m.daily, f)
		sort.SliceStable(m.daily, func(i, j int) bool { return m.daily[i].Priority() < m.daily[j].Priority() })
	}
	if f, ok := src.(QuoteFetcher); ok {
		m.quotes = append(m.quotes, f)
		sort.SliceStable(m.quotes, func(i, j int) bool { return m.quotes[i].Priority() < m.quotes[j].Priority() })
	}
	if f, ok := src.(ChipsFetcher); ok {
		m.chips = append(m.chips, f)
		sort.SliceStable(m.chips, func(i, j int) bool { return m.chips[i].Priority() < m.chips[j].Priority() })
	}
	if f, ok := src.(NameFetcher); ok {
		m.names = append(m.names, f)
		sort.SliceStable(m.names, func(i, j int) bool { return m.names[i].Priority() < m.names[j].Priority() })
	}
	if f, ok := src.(MarketFetcher); ok {
		m.markets = append(m.markets, f)
		sort.SliceStable(m.markets, func(i, j int) bool { return m.markets[i].Priority() < m.markets[j].Priority() })
	}
}

// call runs op for one source under the breaker and the retry policy.
// Unsupported-market errors fail over without charging the breaker.
func (m *Manager) call(ctx context.Context, key string, op func(ctx context.Context) error) error {
	report, err := m.breakers.Allow(key)
	if err != nil {
		return err
	}
	err = infra.Retry(ctx, retryAttempts, op)
	if errors.Is(err, ErrUnsupportedMarket) {
		report(nil)
		return err
	}
	report(err)
	return err
}

// Daily returns the first non-empty normalized series in priority order.
func (m *Manager) Daily(ctx context.Context, sym market.Symbol, start, end time.Time) (*market.CandleSeries, error) {
	fails := make(map[string]error)
	for _, f := range m.daily {
		var series *market.CandleSeries
		err := m.call(ctx, f.SourceName(), func(ctx context.Context) error {
			var err error
			series, err = f.Daily(ctx, sym, start, end)
			return err
		})
		if err != nil {
			fails[f.SourceName()] = err
			continue
		}
		if series == nil || series.Len() == 0 {
			fails[f.SourceName()] = errors.New("empty series")
			continue
		}
		series.Source = f.SourceName()
		log.Debug().Str("source", f.SourceName()).Str("code", sym.Code).
			Int("rows", series.Len()).Msg("daily history fetched")
		return series, nil
	}
	return nil, &FetchError{Op: "daily", Code: sym.Code, Sources: fails}
}

// quoteOrder resolves the quote attempt order for a symbol: foreign
// symbols go only to the foreign source; everything else follows the
// preference list, then any remaining quote sources by priority.
func (m *Manager) quoteOrder(sym market.Symbol) []QuoteFetcher {
	byName := make(map[string]QuoteFetcher, len(m.quotes))
	for _, f := range m.quotes {
		byName[f.SourceName()] = f
	}
	if sym.IsUS() || sym.Market == market.MarketTW {
		if f, ok := byName[m.foreignName]; ok {
			return []QuoteFetcher{f}
		}
		return nil
	}
	var order []QuoteFetcher
	seen := make(map[string]bool)
	for _, name := range m.quotePriority {
		if f, ok := byName[name]; ok {
			order = append(order, f)
			seen[name] = true
		}
	}
	for _, f := range m.quotes {
		if !seen[f.SourceName()] && f.SourceName() != m.foreignName {
			order = append(order, f)
		}
	}
	return order
}

// Quote returns the first usable realtime quote following the preference
// order. Absence is (nil, nil); an error means every source failed.
func (m *Manager) Quote(ctx context.Context, sym market.Symbol) (*market.RealtimeQuote, error) {
	order := m.quoteOrder(sym)
	if len(order) == 0 {
		return nil, nil
	}
	fails := make(map[string]error)
	sawAbsence := false
	for _, f := range order {
		var q *market.RealtimeQuote
		err := m.call(ctx, f.SourceName(), func(ctx context.Context) error {
			var err error
			q, err = f.Quote(ctx, sym)
			return err
		})
		if err != nil {
			fails[f.SourceName()] = err
			continue
		}
		if q.HasBasicData() {
			return q, nil
		}
		sawAbsence = true
	}
	if sawAbsence || len(fails) == 0 {
		return nil, nil
	}
	return nil, &FetchError{Op: "quote", Code: sym.Code, Sources: fails}
}

// Chips returns the latest chip distribution, or (nil, nil) when the
// feature is disabled, the symbol class has no chip data, or the chips
// breaker is open.
func (m *Manager) Chips(ctx context.Context, sym market.Symbol) (*market.ChipDistribution, error) {
	if !m.enableChips || sym.IsETF() || sym.IsIndex() || sym.IsUS() {
		return nil, nil
	}
	report, err := m.breakers.Allow(chipsBreakerKey)
	if err != nil {
		log.Debug().Str("code", sym.Code).Msg("chips breaker open, skipping")
		return nil, nil
	}
	fails := make(map[string]error)
	for _, f := range m.chips {
		var d *market.ChipDistribution
		err := infra.Retry(ctx, retryAttempts, func(ctx context.Context) error {
			var err error
			d, err = f.Chips(ctx, sym)
			return err
		})
		if err != nil {
			fails[f.SourceName()] = err
			continue
		}
		report(nil)
		return d, nil
	}
	if len(fails) > 0 {
		report(&FetchError{Op: "chips", Code: sym.Code, Sources: fails})
	} else {
		report(nil)
	}
	return nil, nil
}

// BatchNames resolves display names for a batch: name cache first, then
// one bulk StockList per source, then per-symbol lookups for the residue.
// Unresolvable codes are simply absent from the result.
func (m *Manager) BatchNames(ctx context.Context, syms []market.Symbol) map[string]string {
	out := make(map[string]string, len(syms))
	var missing []market.Symbol
	for _, s := range syms {
		if v, ok := m.nameCache.Load(s.Code); ok {
			out[s.Code] = v.(string)
			continue
		}
		missing = append(missing, s)
	}
	if len(missing) == 0 {
		return out
	}

	for _, f := range m.names {
		listing, err := f.StockList(ctx)
		if err != nil || len(listing) == 0 {
			continue
		}
		var still []market.Symbol
		for _, s := range missing {
			if name, ok := listing[s.Code]; ok && name != "" {
				out[s.Code] = name
				m.nameCache.Store(s.Code, name)
				continue
			}
			still = append(still, s)
		}
		missing = still
		if len(missing) == 0 {
			return out
		}
	}

	for _, s := range missing {
		for _, f := range m.names {
			name, err := f.StockName(ctx, s)
			if err != nil || name == "" {
				continue
			}
			out[s.Code] = name
			m.nameCache.Store(s.Code, name)
			break
		}
	}
	return out
}

// PrefetchQuotes warms the snapshot cache ahead of a batch. It is a no-op
// unless the preferred quote source is snapshot-oriented and the batch is
// large enough to amortize a whole-market pull.
func (m *Manager) PrefetchQuotes(ctx context.Context, syms []market.Symbol) {
	if len(syms) < snapshotPrefetchMin {
		return
	}
	domestic := 0
	for _, s := range syms {
		if !s.IsUS() && s.Market != market.MarketTW {
			domestic++
		}
	}
	if domestic < snapshotPrefetchMin {
		return
	}
	order := m.quoteOrder(market.Symbol{Market: market.MarketAShareSH})
	if len(order) == 0 {
		return
	}
	snap, ok := order[0].(SnapshotSource)
	if !ok {
		return
	}
	if err := snap.WarmSnapshot(ctx); err != nil {
		log.Debug().Err(err).Str("source", snap.SourceName()).Msg("snapshot prefetch failed")
	}
}

// Indices returns the major index quotes from the first source that has them.
func (m *Manager) Indices(ctx context.Context) ([]market.IndexQuote, error) {
	fails := make(map[string]error)
	for _, f := range m.markets {
		var out []market.IndexQuote
		err := m.call(ctx, f.SourceName(), func(ctx context.Context) error {
			var err error
			out, err = f.Indices(ctx)
			return err
		})
		if err != nil {
			fails[f.SourceName()] = err
			continue
		}
		if len(out) > 0 {
			return out, nil
		}
	}
	return nil, &FetchError{Op: "indices", Code: "-", Sources: fails}
}

// MarketStats returns whole-market breadth statistics.
func (m *Manager) MarketStats(ctx context.Context) (*market.MarketStats, error) {
	fails := make(map[string]error)
	for _, f := range m.markets {
		var out *market.MarketStats
		err := m.call(ctx, f.SourceName(), func(ctx context.Context) error {
			var err error
			out, err = f.MarketStats(ctx)
			return err
		})
		if err != nil {
			fails[f.SourceName()] = err
			continue
		}
		if out != nil {
			return out, nil
		}
	}
	return nil, &FetchError{Op: "market_stats", Code: "-", Sources: fails}
}

// Sectors returns the top-n sector ranking.
func (m *Manager) Sectors(ctx context.Context, n int) ([]market.SectorRank, error) {
	fails := make(map[string]error)
	for _, f := range m.markets {
		var out []market.SectorRank
		err := m.call(ctx, f.SourceName(), func(ctx context.Context) error {
			var err error
			out, err = f.Sectors(ctx, n)
			return err
		})
		if err != nil {
			fails[f.SourceName()] = err
			continue
		}
		if len(out) > 0 {
			return out, nil
		}
	}
	return nil, &FetchError{Op: "sectors", Code: "-", Sources: fails}
}
