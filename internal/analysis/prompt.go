package analysis

import (
	"fmt"
	"strings"

	"github.com/seenimoa/stockwatch/internal/llm"
	"github.com/seenimoa/stockwatch/internal/market"
	"github.com/seenimoa/stockwatch/internal/search"
)

// Report types accepted from configuration and the API.
const (
	ReportFull    = "full"
	ReportSimple  = "simple"
	DefaultWindow = 60 // trading days of history fed to the model
)

// PromptInput collects everything one analysis prompt is built from.
type PromptInput struct {
	Symbol     market.Symbol
	Name       string
	ReportType string
	Candles    []market.EnrichedCandle
	Quote      *market.RealtimeQuote
	Chips      *market.ChipDistribution
	News       []search.NewsItem
}

const systemPrompt = `你是一位资深的A股/港股/美股分析师，擅长结合技术面、资金面和消息面做出客观判断。
请基于用户提供的数据进行分析，不要编造数据中没有的信息。
输出必须是一个 JSON 对象，字段如下：
{"sentiment_score": 0到100的整数, "operation_advice": "买入/加仓/持有/减仓/卖出之一",
 "trend_prediction": "一句话趋势判断", "confidence": 0到1的小数,
 "core_conclusion": "核心结论", "data_perspective": "数据透视",
 "intelligence": "情报解读", "battle_plan": "操作计划", "analysis": "完整分析正文(markdown)"}
除 JSON 外不要输出任何内容。`

// BuildMessages renders the chat messages for one symbol.
func BuildMessages(in PromptInput) []llm.Message {
	var b strings.Builder
	name := in.Name
	if name == "" {
		name = in.Symbol.Code
	}
	fmt.Fprintf(&b, "请分析股票 %s（%s）。\n\n", name, in.Symbol.Code)

	if n := len(in.Candles); n > 0 {
		last := in.Candles[n-1]
		fmt.Fprintf(&b, "## 技术面（近%d个交易日）\n", n)
		fmt.Fprintf(&b, "最新收盘 %.2f，涨跌幅 %.2f%%，MA5 %.2f，MA10 %.2f，MA20 %.2f\n",
			last.Close, last.PctChg, last.MA5, last.MA10, last.MA20)
		fmt.Fprintf(&b, "量比 %.2f，MA5乖离率 %.2f%%，支撑位 %.2f，压力位 %.2f\n",
			last.VolumeRatio, last.BiasMA5*100, last.Support, last.Resistance)
		b.WriteString("最近10个交易日：\n日期,开盘,最高,最低,收盘,成交量,涨跌幅\n")
		lo := n - 10
		if lo < 0 {
			lo = 0
		}
		for _, c := range in.Candles[lo:] {
			fmt.Fprintf(&b, "%s,%.2f,%.2f,%.2f,%.2f,%d,%.2f%%\n",
				c.Date.Format("2006-01-02"), c.Open, c.High, c.Low, c.Close, c.Volume, c.PctChg)
		}
		b.WriteString("\n")
	}

	if q := in.Quote; q.HasBasicData() {
		b.WriteString("## 实时行情\n")
		fmt.Fprintf(&b, "现价 %.2f（%+.2f%%），成交额 %.0f", q.Price, q.ChangePct, q.Amount)
		if q.TurnoverRate > 0 {
			fmt.Fprintf(&b, "，换手率 %.2f%%", q.TurnoverRate)
		}
		if q.PE > 0 {
			fmt.Fprintf(&b, "，市盈率 %.1f", q.PE)
		}
		if q.TotalMV > 0 {
			fmt.Fprintf(&b, "，总市值 %.1f亿", q.TotalMV/1e8)
		}
		b.WriteString("\n\n")
	}

	if ch := in.Chips; ch != nil {
		b.WriteString("## 筹码分布\n")
		fmt.Fprintf(&b, "获利比例 %.1f%%，平均成本 %.2f，90%%筹码区间 %.2f-%.2f（集中度 %.1f%%）\n\n",
			ch.ProfitRatio*100, ch.AvgCost, ch.Cost90Low, ch.Cost90High, ch.Concentration90*100)
	}

	if len(in.News) > 0 {
		b.WriteString("## 相关资讯\n")
		for i, n := range in.News {
			fmt.Fprintf(&b, "%d. %s", i+1, n.Title)
			if n.Snippet != "" {
				fmt.Fprintf(&b, " — %s", n.Snippet)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if in.ReportType == ReportSimple {
		b.WriteString("请输出简版分析：analysis 字段控制在200字以内。\n")
	}

	return []llm.Message{
		llm.SystemMessage(systemPrompt),
		llm.UserMessage(b.String()),
	}
}
