// Package fetcher implements the data-source abstraction layer. It defines
// capability interfaces that concrete sources implement, a shared BaseSource
// with the rate gate baked in, and a Manager that routes each request to the
// best available source with priority failover.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/seenimoa/stockwatch/internal/infra"
	"github.com/seenimoa/stockwatch/internal/market"
)

// ErrRateLimited signals that an upstream refused the call for quota
// reasons. It matches the breaker's ban heuristics.
var ErrRateLimited = errors.New("rate limited by upstream")

// ErrUnsupportedMarket is returned by a source asked for a market it does
// not serve. The manager fails over without charging the breaker.
var ErrUnsupportedMarket = errors.New("market not supported by this source")

// FetchError aggregates the per-source failures of one manager operation.
type FetchError struct {
	Op      string
	Code    string
	Sources map[string]error
}

func (e *FetchError) Error() string {
	parts := make([]string, 0, len(e.Sources))
	for name, err := range e.Sources {
		parts = append(parts, fmt.Sprintf("%s: %v", name, err))
	}
	sort.Strings(parts)
	return fmt.Sprintf("%s %s failed on all sources: %s", e.Op, e.Code, strings.Join(parts, "; "))
}

// Source is the base interface every data source implements.
type Source interface {
	SourceName() string
	Priority() int
}

// DailyFetcher fetches a normalized daily candle series.
type DailyFetcher interface {
	Source
	Daily(ctx context.Context, sym market.Symbol, start, end time.Time) (*market.CandleSeries, error)
}

// QuoteFetcher fetches one realtime quote. A missing symbol returns
// (nil, nil), never an error.
type QuoteFetcher interface {
	Source
	Quote(ctx context.Context, sym market.Symbol) (*market.RealtimeQuote, error)
}

// ChipsFetcher fetches the latest chip (cost-basis) distribution.
type ChipsFetcher interface {
	Source
	Chips(ctx context.Context, sym market.Symbol) (*market.ChipDistribution, error)
}

// NameFetcher resolves display names, per symbol or in bulk.
type NameFetcher interface {
	Source
	StockName(ctx context.Context, sym market.Symbol) (string, error)
	StockList(ctx context.Context) (map[string]string, error)
}

// MarketFetcher serves market-wide aggregates.
type MarketFetcher interface {
	Source
	Indices(ctx context.Context) ([]market.IndexQuote, error)
	MarketStats(ctx context.Context) (*market.MarketStats, error)
	Sectors(ctx context.Context, n int) ([]market.SectorRank, error)
}

// SnapshotSource marks a quote source whose Quote is backed by a cached
// whole-market snapshot, making batch prefetch worthwhile.
type SnapshotSource interface {
	QuoteFetcher
	WarmSnapshot(ctx context.Context) error
}

// BaseSource carries the identity, priority, rate gate, and HTTP client
// shared by every concrete source. Embed it and override as needed.
type BaseSource struct {
	name     string
	priority int
	gate     *infra.RateGate
	client   *http.Client
	logger   zerolog.Logger
}

// NewBaseSource builds a BaseSource. gate may be nil for sources that need
// no throttling (tests, in-process sources).
func NewBaseSource(name string, priority int, gate *infra.RateGate, client *http.Client) BaseSource {
	return BaseSource{
		name:     name,
		priority: priority,
		gate:     gate,
		client:   client,
		logger:   log.With().Str("source", name).Logger(),
	}
}

func (b *BaseSource) SourceName() string { return b.name }
func (b *BaseSource) Priority() int      { return b.priority }

// SetPriority adjusts the source's priority, e.g. when a paid credential
// elevates a source above the free tier.
func (b *BaseSource) SetPriority(p int) { b.priority = p }

// Wait blocks on the source's rate gate.
func (b *BaseSource) Wait(ctx context.Context) error {
	if b.gate == nil {
		return nil
	}
	return b.gate.Wait(ctx)
}

// Client returns the source's HTTP client.
func (b *BaseSource) Client() *http.Client { return b.client }

// Log returns the source-tagged logger.
func (b *BaseSource) Log() *zerolog.Logger { return &b.logger }
