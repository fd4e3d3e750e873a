package analysis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/seenimoa/stockwatch/internal/market"
	"github.com/seenimoa/stockwatch/internal/search"
)

const (
	defaultWorkers = 3 // low on purpose: more provokes upstream bans
	historySpan    = 120 * 24 * time.Hour
	newsLimit      = 5
)

// MarketData is the slice of the fetcher manager the pipeline needs.
type MarketData interface {
	Daily(ctx context.Context, sym market.Symbol, start, end time.Time) (*market.CandleSeries, error)
	Quote(ctx context.Context, sym market.Symbol) (*market.RealtimeQuote, error)
	Chips(ctx context.Context, sym market.Symbol) (*market.ChipDistribution, error)
	BatchNames(ctx context.Context, syms []market.Symbol) map[string]string
	PrefetchQuotes(ctx context.Context, syms []market.Symbol)
}

// Searcher provides news items for a symbol query.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]search.NewsItem, error)
}

// Recorder persists finished results.
type Recorder interface {
	InsertAnalysis(ctx context.Context, r *AnalysisResult) error
}

// Notifier delivers reports. SendStock is the single-symbol path; SendBatch
// is the end-of-run dashboard.
type Notifier interface {
	SendStock(ctx context.Context, r *AnalysisResult) error
	SendBatch(ctx context.Context, results []*AnalysisResult) error
}

// Snapshotter archives the exact model inputs of one analysis for later
// debugging.
type Snapshotter interface {
	SaveContextSnapshot(ctx context.Context, code, prompt string, inputs any) error
}

// PipelineOptions wires a Pipeline. Search, Store, Notify and Snapshots may
// be nil; the corresponding steps are skipped.
type PipelineOptions struct {
	Data       MarketData
	Analyzer   *Analyzer
	Search     Searcher
	Store      Recorder
	Notify     Notifier
	Snapshots  Snapshotter
	Workers    int
	ReportType string
	// SingleNotify sends each symbol's report as it completes during a
	// batch run, in addition to the final dashboard.
	SingleNotify bool
}

// Pipeline runs the per-symbol analysis steps with bounded concurrency.
// A failure in one symbol is logged and recorded as a failed result
// without affecting peers.
type Pipeline struct {
	data         MarketData
	analyzer     *Analyzer
	search       Searcher
	store        Recorder
	notify       Notifier
	snapshots    Snapshotter
	workers      int
	reportType   string
	singleNotify bool
}

// NewPipeline builds a pipeline from its options.
func NewPipeline(opts PipelineOptions) *Pipeline {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.ReportType == "" {
		opts.ReportType = ReportFull
	}
	return &Pipeline{
		data:         opts.Data,
		analyzer:     opts.Analyzer,
		search:       opts.Search,
		store:        opts.Store,
		notify:       opts.Notify,
		snapshots:    opts.Snapshots,
		workers:      opts.Workers,
		reportType:   opts.ReportType,
		singleNotify: opts.SingleNotify,
	}
}

// ProcessSingle runs the full step sequence for one symbol under a fresh
// query id. The returned result is always non-nil; Success is false only
// when the symbol could not be classified or no daily history was available.
func (p *Pipeline) ProcessSingle(ctx context.Context, code string, singleNotify bool) *AnalysisResult {
	return p.process(ctx, NewQueryID(), code, singleNotify)
}

// ProcessQuery is ProcessSingle under a caller-supplied query id, so task
// submissions keep their task id as the history key. An empty id gets a
// fresh one.
func (p *Pipeline) ProcessQuery(ctx context.Context, queryID, code string, singleNotify bool) *AnalysisResult {
	if queryID == "" {
		queryID = NewQueryID()
	}
	return p.process(ctx, queryID, code, singleNotify)
}

func (p *Pipeline) process(ctx context.Context, queryID, code string, singleNotify bool) *AnalysisResult {
	sym, err := market.Classify(code)
	if err != nil {
		res := Failed(code, "", err.Error())
		res.QueryID = queryID
		p.persist(ctx, res)
		return res
	}

	names := p.data.BatchNames(ctx, []market.Symbol{sym})
	name := names[sym.Code]

	end := time.Now()
	series, err := p.data.Daily(ctx, sym, end.Add(-historySpan), end)
	if err != nil {
		log.Error().Err(err).Str("code", sym.Code).Msg("no daily history")
		res := Failed(sym.Code, name, fmt.Sprintf("history unavailable: %v", err))
		res.QueryID = queryID
		p.persist(ctx, res)
		if singleNotify {
			p.sendStock(ctx, res)
		}
		return res
	}
	enriched := market.Enrich(series)

	// Quote and chips are independent upstream calls; failures degrade to
	// a partial result.
	var (
		quote *market.RealtimeQuote
		chips *market.ChipDistribution
		wg    sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		q, err := p.data.Quote(ctx, sym)
		if err != nil {
			log.Warn().Err(err).Str("code", sym.Code).Msg("quote fetch failed")
			return
		}
		quote = q
	}()
	go func() {
		defer wg.Done()
		c, err := p.data.Chips(ctx, sym)
		if err != nil {
			log.Warn().Err(err).Str("code", sym.Code).Msg("chips fetch failed")
			return
		}
		chips = c
	}()
	wg.Wait()

	var news []search.NewsItem
	searched := false
	if p.search != nil {
		query := sym.Code
		if name != "" {
			query = name + " " + sym.Code
		}
		items, err := p.search.Search(ctx, query, newsLimit)
		if err != nil {
			log.Warn().Err(err).Str("code", sym.Code).Msg("news search failed")
		} else {
			news = items
			searched = true
		}
	}

	in := PromptInput{
		Symbol:     sym,
		Name:       name,
		ReportType: p.reportType,
		Candles:    enriched,
		Quote:      quote,
		Chips:      chips,
		News:       news,
	}
	if p.snapshots != nil {
		msgs := BuildMessages(in)
		prompt := msgs[len(msgs)-1].Content
		if err := p.snapshots.SaveContextSnapshot(ctx, sym.Code, prompt, in); err != nil {
			log.Warn().Err(err).Str("code", sym.Code).Msg("context snapshot save failed")
		}
	}
	res := p.analyzer.Analyze(ctx, in)
	res.Code = sym.Code
	res.Name = name
	res.QueryID = queryID
	res.News = news
	res.SearchPerformed = searched
	if quote != nil {
		res.Snapshot = SnapshotFromQuote(quote)
	}
	res.DataSources = dataSources(series, quote)

	p.persist(ctx, res)
	if singleNotify {
		p.sendStock(ctx, res)
	}
	return res
}

// Run analyzes a batch: names and the snapshot cache are warmed up front,
// then symbols fan out over the worker pool. Every result in the batch
// shares one query id. The returned slice is in input order and always
// complete.
func (p *Pipeline) Run(ctx context.Context, codes []string) []*AnalysisResult {
	queryID := NewQueryID()
	var syms []market.Symbol
	for _, code := range codes {
		if sym, err := market.Classify(code); err == nil {
			syms = append(syms, sym)
		}
	}
	p.data.BatchNames(ctx, syms)
	p.data.PrefetchQuotes(ctx, syms)

	results := make([]*AnalysisResult, len(codes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, code := range codes {
		i, code := i, code
		g.Go(func() error {
			results[i] = p.process(gctx, queryID, code, p.singleNotify)
			return nil
		})
	}
	g.Wait() // workers never return errors; failures live in the results

	if p.notify != nil {
		if err := p.notify.SendBatch(ctx, results); err != nil {
			log.Error().Err(err).Msg("batch notification failed")
		}
	}
	return results
}

func (p *Pipeline) persist(ctx context.Context, res *AnalysisResult) {
	if p.store == nil {
		return
	}
	if err := p.store.InsertAnalysis(ctx, res); err != nil {
		log.Error().Err(err).Str("code", res.Code).Msg("persist analysis failed")
	}
}

func (p *Pipeline) sendStock(ctx context.Context, res *AnalysisResult) {
	if p.notify == nil {
		return
	}
	if err := p.notify.SendStock(ctx, res); err != nil {
		log.Error().Err(err).Str("code", res.Code).Msg("stock notification failed")
	}
}

func dataSources(series *market.CandleSeries, quote *market.RealtimeQuote) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	if series != nil {
		add(series.Source)
	}
	if quote != nil {
		add(quote.Source)
	}
	return out
}
