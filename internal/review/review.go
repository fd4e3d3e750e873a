// Package review produces the whole-market daily review: index quotes,
// breadth statistics and sector ranking, narrated by the model when one is
// configured, then delivered and mirrored to the reports directory.
package review

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/seenimoa/stockwatch/internal/analysis"
	"github.com/seenimoa/stockwatch/internal/llm"
	"github.com/seenimoa/stockwatch/internal/market"
	"github.com/seenimoa/stockwatch/internal/notify"
)

const sectorCount = 10

// MarketSource is the slice of the fetcher manager the review needs.
type MarketSource interface {
	Indices(ctx context.Context) ([]market.IndexQuote, error)
	MarketStats(ctx context.Context) (*market.MarketStats, error)
	Sectors(ctx context.Context, n int) ([]market.SectorRank, error)
}

// Sender delivers the finished report.
type Sender interface {
	Dispatch(ctx context.Context, body string) error
}

// Options wires a Review. Chat, Send may be nil; Delay postpones the data
// pull after the trigger so closing prints settle upstream.
type Options struct {
	Source     MarketSource
	Chat       analysis.Chatter
	Send       Sender
	Delay      time.Duration
	ReportDir  string
	WriteFiles bool
}

// Review runs the market-review phase.
type Review struct {
	opts Options
}

// New builds a Review.
func New(opts Options) *Review { return &Review{opts: opts} }

// Run executes one review: wait out the delay, gather whatever market data
// is available (each block optional), narrate, deliver. It fails only when
// no market data at all could be fetched.
func (r *Review) Run(ctx context.Context) (string, error) {
	if r.opts.Delay > 0 {
		t := time.NewTimer(r.opts.Delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return "", ctx.Err()
		case <-t.C:
		}
	}

	indices, err := r.opts.Source.Indices(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("index quotes unavailable")
	}
	stats, err := r.opts.Source.MarketStats(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("market stats unavailable")
	}
	sectors, err := r.opts.Source.Sectors(ctx, sectorCount)
	if err != nil {
		log.Warn().Err(err).Msg("sector ranking unavailable")
	}
	if len(indices) == 0 && stats == nil && len(sectors) == 0 {
		return "", fmt.Errorf("review: no market data available")
	}

	narrative := r.narrate(ctx, indices, stats, sectors)
	body := notify.BuildMarketReview(indices, stats, sectors, narrative)

	if r.opts.WriteFiles {
		if path, err := notify.WriteReportFile(r.opts.ReportDir, notify.MarketReviewName(time.Now()), body); err != nil {
			log.Error().Err(err).Msg("market review file write failed")
		} else {
			log.Info().Str("path", path).Msg("market review written")
		}
	}
	if r.opts.Send != nil {
		if err := r.opts.Send.Dispatch(ctx, body); err != nil {
			log.Error().Err(err).Msg("market review delivery failed")
		}
	}
	return body, nil
}

const reviewSystemPrompt = `你是一位资深市场策略分析师。请基于用户提供的当日市场数据，
写一段简洁的大盘复盘解读（300字以内）：点评指数表现、市场情绪（涨跌家数与涨跌停）、
板块轮动，并给出次日关注点。直接输出正文，不要输出标题。`

// narrate asks the model for the interpretation block. Without a model (or
// on failure) it degrades to a one-line breadth summary.
func (r *Review) narrate(ctx context.Context, indices []market.IndexQuote, stats *market.MarketStats, sectors []market.SectorRank) string {
	fallback := ""
	if stats != nil {
		mood := "偏弱"
		if stats.UpCount > stats.DownCount {
			mood = "偏强"
		}
		fallback = fmt.Sprintf("今日市场%s：上涨 %d 家，下跌 %d 家，涨停 %d 家。",
			mood, stats.UpCount, stats.DownCount, stats.LimitUpCount)
	}
	if r.opts.Chat == nil || !r.opts.Chat.Configured() {
		return fallback
	}

	var data string
	for _, ix := range indices {
		data += fmt.Sprintf("%s %.2f（%+.2f%%）\n", ix.Name, ix.Current, ix.ChangePct)
	}
	if stats != nil {
		data += fmt.Sprintf("上涨 %d / 下跌 %d / 平盘 %d，涨停 %d，跌停 %d，成交额 %.0f 亿\n",
			stats.UpCount, stats.DownCount, stats.FlatCount,
			stats.LimitUpCount, stats.LimitDownCount, stats.TotalAmount/1e8)
	}
	for _, s := range sectors {
		data += fmt.Sprintf("板块 %s %+.2f%%\n", s.Name, s.ChangePct)
	}

	resp, err := r.opts.Chat.Chat(ctx, []llm.Message{
		llm.SystemMessage(reviewSystemPrompt),
		llm.UserMessage(data),
	}, nil)
	if err != nil {
		log.Warn().Err(err).Msg("review narration failed, using summary")
		return fallback
	}
	return resp.Content
}
