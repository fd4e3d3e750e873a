// Package analysis turns fetched market data into structured per-symbol
// verdicts: it builds the prompt, runs the model (or a deterministic
// template when none is configured), and orchestrates the per-symbol
// pipeline with bounded concurrency.
package analysis

import (
	"strings"
	"time"

	"github.com/seenimoa/stockwatch/internal/market"
	"github.com/seenimoa/stockwatch/internal/search"
)

// DecisionType is the coarse verdict bucket.
type DecisionType string

const (
	DecisionBuy  DecisionType = "buy"
	DecisionHold DecisionType = "hold"
	DecisionSell DecisionType = "sell"
)

// Advice substrings mapped onto buy/sell. Everything else is hold, so the
// mapping is total over arbitrary model output.
var (
	buyMarkers  = []string{"買入", "买入", "加倉", "加仓", "buy", "accumulate"}
	sellMarkers = []string{"賣出", "卖出", "減倉", "减仓", "清倉", "清仓", "sell", "reduce"}
)

// MapDecision buckets a free-text operation advice into a DecisionType.
func MapDecision(advice string) DecisionType {
	lowered := strings.ToLower(advice)
	for _, m := range sellMarkers {
		if strings.Contains(lowered, m) {
			return DecisionSell
		}
	}
	for _, m := range buyMarkers {
		if strings.Contains(lowered, m) {
			return DecisionBuy
		}
	}
	return DecisionHold
}

// ClampSentiment forces a sentiment score into [0,100].
func ClampSentiment(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}

// Dashboard holds the preformatted report sections of one result.
type Dashboard struct {
	CoreConclusion  string `json:"core_conclusion"`
	DataPerspective string `json:"data_perspective"`
	Intelligence    string `json:"intelligence"`
	BattlePlan      string `json:"battle_plan"`
}

// MarketSnapshot is the quote-derived block attached to a result when a
// realtime quote was available. Source names the fetcher that produced it.
type MarketSnapshot struct {
	Source       string  `json:"source"`
	Price        float64 `json:"price"`
	ChangePct    float64 `json:"change_pct"`
	Volume       int64   `json:"volume"`
	Amount       float64 `json:"amount"`
	TurnoverRate float64 `json:"turnover_rate,omitempty"`
	PE           float64 `json:"pe,omitempty"`
	PB           float64 `json:"pb,omitempty"`
	TotalMV      float64 `json:"total_mv,omitempty"`
	High52W      float64 `json:"high_52w,omitempty"`
	Low52W       float64 `json:"low_52w,omitempty"`
}

// SnapshotFromQuote converts a realtime quote into the result block.
func SnapshotFromQuote(q *market.RealtimeQuote) *MarketSnapshot {
	if !q.HasBasicData() {
		return nil
	}
	return &MarketSnapshot{
		Source:       q.Source,
		Price:        q.Price,
		ChangePct:    q.ChangePct,
		Volume:       q.Volume,
		Amount:       q.Amount,
		TurnoverRate: q.TurnoverRate,
		PE:           q.PE,
		PB:           q.PB,
		TotalMV:      q.TotalMV,
		High52W:      q.WeekHigh52,
		Low52W:       q.WeekLow52,
	}
}

// AnalysisResult is the product of one pipeline run for one symbol.
type AnalysisResult struct {
	Code    string `json:"code"`
	Name    string `json:"name"`
	QueryID string `json:"query_id,omitempty"`

	SentimentScore  float64      `json:"sentiment_score"`
	OperationAdvice string       `json:"operation_advice"`
	DecisionType    DecisionType `json:"decision_type"`
	TrendPrediction string       `json:"trend_prediction"`
	Confidence      float64      `json:"confidence"`

	Analysis  string            `json:"analysis,omitempty"`
	Dashboard Dashboard         `json:"dashboard"`
	Snapshot  *MarketSnapshot   `json:"market_snapshot,omitempty"`
	News      []search.NewsItem `json:"news_items,omitempty"`

	Success         bool      `json:"success"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	DataSources     []string  `json:"data_sources,omitempty"`
	SearchPerformed bool      `json:"search_performed"`
	ReportType      string    `json:"report_type,omitempty"`
	AnalyzedAt      time.Time `json:"analyzed_at"`
}

// NewQueryID mints the identifier tying together all results of one
// pipeline run. Task submissions use the task id instead.
func NewQueryID() string {
	return time.Now().Format("20060102150405.000000")
}

// Failed builds the result recorded when a symbol's pipeline run failed.
func Failed(code, name, msg string) *AnalysisResult {
	return &AnalysisResult{
		Code:         code,
		Name:         name,
		DecisionType: DecisionHold,
		Success:      false,
		ErrorMessage: msg,
		AnalyzedAt:   time.Now(),
	}
}
