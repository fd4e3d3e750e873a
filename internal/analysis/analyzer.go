package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/seenimoa/stockwatch/internal/llm"
)

// Chatter is the slice of the LLM router the analyzer needs.
type Chatter interface {
	Chat(ctx context.Context, messages []llm.Message, opts *llm.ChatOptions) (*llm.Response, error)
	Configured() bool
}

// Analyzer converts a PromptInput into an AnalysisResult draft. With no
// model configured it degrades to a deterministic template built from the
// indicators, so a report always comes out.
type Analyzer struct {
	chat Chatter
	opts *llm.ChatOptions
}

// NewAnalyzer builds an analyzer. chat may be nil (template-only mode).
func NewAnalyzer(chat Chatter, opts *llm.ChatOptions) *Analyzer {
	return &Analyzer{chat: chat, opts: opts}
}

// llmVerdict mirrors the JSON object the prompt asks the model for.
type llmVerdict struct {
	SentimentScore  float64 `json:"sentiment_score"`
	OperationAdvice string  `json:"operation_advice"`
	TrendPrediction string  `json:"trend_prediction"`
	Confidence      float64 `json:"confidence"`
	CoreConclusion  string  `json:"core_conclusion"`
	DataPerspective string  `json:"data_perspective"`
	Intelligence    string  `json:"intelligence"`
	BattlePlan      string  `json:"battle_plan"`
	Analysis        string  `json:"analysis"`
}

// Analyze produces the result draft for one symbol. LLM failures fall back
// to the template rather than failing the symbol.
func (a *Analyzer) Analyze(ctx context.Context, in PromptInput) *AnalysisResult {
	if a.chat == nil || !a.chat.Configured() {
		return a.template(in)
	}
	resp, err := a.chat.Chat(ctx, BuildMessages(in), a.opts)
	if err != nil {
		log.Warn().Err(err).Str("code", in.Symbol.Code).Msg("llm analysis failed, using template")
		return a.template(in)
	}
	verdict, err := parseVerdict(resp.Content)
	if err != nil {
		log.Warn().Err(err).Str("code", in.Symbol.Code).Msg("unparseable llm verdict, using template")
		return a.template(in)
	}
	return &AnalysisResult{
		Code:            in.Symbol.Code,
		Name:            in.Name,
		SentimentScore:  ClampSentiment(verdict.SentimentScore),
		OperationAdvice: verdict.OperationAdvice,
		DecisionType:    MapDecision(verdict.OperationAdvice),
		TrendPrediction: verdict.TrendPrediction,
		Confidence:      verdict.Confidence,
		Analysis:        verdict.Analysis,
		Dashboard: Dashboard{
			CoreConclusion:  verdict.CoreConclusion,
			DataPerspective: verdict.DataPerspective,
			Intelligence:    verdict.Intelligence,
			BattlePlan:      verdict.BattlePlan,
		},
		Success:    true,
		ReportType: in.ReportType,
		AnalyzedAt: time.Now(),
	}
}

// parseVerdict extracts the JSON object from model output, tolerating code
// fences and prose around it.
func parseVerdict(content string) (*llmVerdict, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in model output")
	}
	var v llmVerdict
	if err := json.Unmarshal([]byte(content[start:end+1]), &v); err != nil {
		return nil, fmt.Errorf("decode verdict: %w", err)
	}
	if v.OperationAdvice == "" {
		return nil, fmt.Errorf("verdict missing operation_advice")
	}
	return &v, nil
}

// template is the rule-based fallback: advice from price vs moving averages
// and volume, sentiment scaled off the day's move.
func (a *Analyzer) template(in PromptInput) *AnalysisResult {
	res := &AnalysisResult{
		Code:       in.Symbol.Code,
		Name:       in.Name,
		Success:    true,
		ReportType: in.ReportType,
		AnalyzedAt: time.Now(),
	}
	n := len(in.Candles)
	if n == 0 {
		res.SentimentScore = 50
		res.OperationAdvice = "持有"
		res.DecisionType = DecisionHold
		res.TrendPrediction = "数据不足，维持观望"
		res.Confidence = 0.2
		return res
	}
	last := in.Candles[n-1]

	score := 50 + last.PctChg*3
	var advice, trend string
	switch {
	case last.Close > last.MA5 && last.MA5 > last.MA20 && last.VolumeRatio >= 1.2:
		advice, trend = "买入", "多头排列且放量，短线偏强"
		score += 10
	case last.Close > last.MA5 && last.MA5 > last.MA20:
		advice, trend = "持有", "均线多头排列，趋势向好"
		score += 5
	case last.Close < last.MA5 && last.MA5 < last.MA20 && last.VolumeRatio >= 1.2:
		advice, trend = "减仓", "空头排列且放量下跌，短线偏弱"
		score -= 10
	case last.Close < last.MA20:
		advice, trend = "持有", "跌破20日均线，保持谨慎"
		score -= 5
	default:
		advice, trend = "持有", "均线交织，方向待选择"
	}

	res.SentimentScore = ClampSentiment(score)
	res.OperationAdvice = advice
	res.DecisionType = MapDecision(advice)
	res.TrendPrediction = trend
	res.Confidence = 0.4
	res.Dashboard = Dashboard{
		CoreConclusion: fmt.Sprintf("%s：%s，建议%s", displayName(in), trend, advice),
		DataPerspective: fmt.Sprintf("收盘 %.2f（%+.2f%%），MA5 %.2f / MA20 %.2f，量比 %.2f，支撑 %.2f，压力 %.2f",
			last.Close, last.PctChg, last.MA5, last.MA20, last.VolumeRatio, last.Support, last.Resistance),
		Intelligence: newsDigest(in),
		BattlePlan:   fmt.Sprintf("关注支撑位 %.2f 与压力位 %.2f 的得失", last.Support, last.Resistance),
	}
	res.Analysis = res.Dashboard.CoreConclusion + "\n\n" + res.Dashboard.DataPerspective
	return res
}

func displayName(in PromptInput) string {
	if in.Name != "" {
		return in.Name
	}
	return in.Symbol.Code
}

func newsDigest(in PromptInput) string {
	if len(in.News) == 0 {
		return "未检索到相关资讯"
	}
	titles := make([]string, 0, 3)
	for _, n := range in.News {
		titles = append(titles, n.Title)
		if len(titles) == 3 {
			break
		}
	}
	return "近期资讯：" + strings.Join(titles, "；")
}
