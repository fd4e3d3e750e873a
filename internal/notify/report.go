package notify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/seenimoa/stockwatch/internal/analysis"
	"github.com/seenimoa/stockwatch/internal/market"
)

var decisionLabels = map[analysis.DecisionType]string{
	analysis.DecisionBuy:  "🟢 买入",
	analysis.DecisionHold: "🟡 持有",
	analysis.DecisionSell: "🔴 卖出",
}

// signalLevel buckets a sentiment score for the summary table.
func signalLevel(score float64) string {
	switch {
	case score >= 75:
		return "强烈看多"
	case score >= 60:
		return "看多"
	case score >= 40:
		return "中性"
	case score >= 25:
		return "看空"
	default:
		return "强烈看空"
	}
}

// BuildStockReport renders a single-symbol markdown report.
func BuildStockReport(r *analysis.AnalysisResult) string {
	var b strings.Builder
	name := r.Name
	if name == "" {
		name = r.Code
	}
	fmt.Fprintf(&b, "## %s (%s)\n\n", name, r.Code)

	if !r.Success {
		fmt.Fprintf(&b, "**分析失败**：%s\n", r.ErrorMessage)
		return b.String()
	}

	fmt.Fprintf(&b, "**%s** | 情绪分 %.0f（%s） | 置信度 %.0f%%\n\n",
		decisionLabels[r.DecisionType], r.SentimentScore, signalLevel(r.SentimentScore), r.Confidence*100)
	if r.TrendPrediction != "" {
		fmt.Fprintf(&b, "**趋势判断**：%s\n\n", r.TrendPrediction)
	}
	if s := r.Snapshot; s != nil {
		fmt.Fprintf(&b, "### 行情快照\n现价 %.2f（%+.2f%%）", s.Price, s.ChangePct)
		if s.TurnoverRate > 0 {
			fmt.Fprintf(&b, "，换手率 %.2f%%", s.TurnoverRate)
		}
		if s.PE > 0 {
			fmt.Fprintf(&b, "，PE %.1f", s.PE)
		}
		fmt.Fprintf(&b, "（数据源：%s）\n\n", s.Source)
	}
	if d := r.Dashboard; d.CoreConclusion != "" {
		fmt.Fprintf(&b, "### 核心结论\n%s\n\n", d.CoreConclusion)
		if d.DataPerspective != "" {
			fmt.Fprintf(&b, "### 数据透视\n%s\n\n", d.DataPerspective)
		}
		if d.Intelligence != "" {
			fmt.Fprintf(&b, "### 情报解读\n%s\n\n", d.Intelligence)
		}
		if d.BattlePlan != "" {
			fmt.Fprintf(&b, "### 操作计划\n%s\n\n", d.BattlePlan)
		}
	} else if r.Analysis != "" {
		b.WriteString(r.Analysis + "\n\n")
	}
	if len(r.News) > 0 {
		b.WriteString("### 相关资讯\n")
		for _, n := range r.News {
			fmt.Fprintf(&b, "- [%s](%s)\n", n.Title, n.URL)
		}
		b.WriteString("\n")
	}
	if len(r.DataSources) > 0 {
		fmt.Fprintf(&b, "数据来源：%s\n", strings.Join(r.DataSources, ", "))
	}
	return b.String()
}

// BuildDashboard renders the batch summary followed by every per-symbol
// report, separated so the chunker can split between stocks.
func BuildDashboard(results []*analysis.AnalysisResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# 每日复盘 %s\n\n", time.Now().Format("2006-01-02"))

	var buy, hold, sell, failed int
	for _, r := range results {
		if !r.Success {
			failed++
			continue
		}
		switch r.DecisionType {
		case analysis.DecisionBuy:
			buy++
		case analysis.DecisionSell:
			sell++
		default:
			hold++
		}
	}
	fmt.Fprintf(&b, "共 %d 只：🟢 买入 %d | 🟡 持有 %d | 🔴 卖出 %d", len(results), buy, hold, sell)
	if failed > 0 {
		fmt.Fprintf(&b, " | ⚠️ 失败 %d", failed)
	}
	b.WriteString("\n\n## 摘要\n\n| 代码 | 名称 | 建议 | 情绪分 | 信号 |\n|---|---|---|---|---|\n")
	for _, r := range results {
		if !r.Success {
			fmt.Fprintf(&b, "| %s | %s | 失败 | - | - |\n", r.Code, r.Name)
			continue
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %.0f | %s |\n",
			r.Code, r.Name, decisionLabels[r.DecisionType], r.SentimentScore, signalLevel(r.SentimentScore))
	}
	b.WriteString("\n")

	for _, r := range results {
		b.WriteString("\n---\n\n")
		b.WriteString(BuildStockReport(r))
	}
	return b.String()
}

// BuildMarketReview renders the whole-market review report.
func BuildMarketReview(indices []market.IndexQuote, stats *market.MarketStats, sectors []market.SectorRank, narrative string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# 大盘复盘 %s\n\n", time.Now().Format("2006-01-02"))

	if len(indices) > 0 {
		b.WriteString("## 主要指数\n\n| 指数 | 点位 | 涨跌幅 |\n|---|---|---|\n")
		for _, ix := range indices {
			fmt.Fprintf(&b, "| %s | %.2f | %+.2f%% |\n", ix.Name, ix.Current, ix.ChangePct)
		}
		b.WriteString("\n")
	}
	if stats != nil {
		fmt.Fprintf(&b, "## 市场概况\n\n上涨 %d 家，下跌 %d 家，平盘 %d 家；涨停 %d，跌停 %d；成交额 %.0f 亿\n\n",
			stats.UpCount, stats.DownCount, stats.FlatCount,
			stats.LimitUpCount, stats.LimitDownCount, stats.TotalAmount/1e8)
	}
	if len(sectors) > 0 {
		b.WriteString("## 板块表现\n\n")
		for _, s := range sectors {
			fmt.Fprintf(&b, "- %s %+.2f%%", s.Name, s.ChangePct)
			if s.LeadStock != "" {
				fmt.Fprintf(&b, "（领涨：%s）", s.LeadStock)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	if narrative != "" {
		fmt.Fprintf(&b, "## 复盘解读\n\n%s\n", narrative)
	}
	return b.String()
}

// WriteReportFile writes body under dir (default ./reports) with the given
// filename, creating the directory on demand.
func WriteReportFile(dir, filename, body string) (string, error) {
	if dir == "" {
		dir = "reports"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("notify: create report dir: %w", err)
	}
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return "", fmt.Errorf("notify: write report: %w", err)
	}
	return path, nil
}

// DailyReportName returns the conventional daily report filename.
func DailyReportName(t time.Time) string {
	return "report_" + t.Format("20060102") + ".md"
}

// MarketReviewName returns the conventional market review filename.
func MarketReviewName(t time.Time) string {
	return "market_review_" + t.Format("20060102") + ".md"
}

// PipelineNotifier adapts a Dispatcher to the analysis pipeline's Notifier
// interface, optionally mirroring each report to ./reports. A nil or empty
// Dispatcher leaves only the file mirror, for file-only runs.
type PipelineNotifier struct {
	Dispatcher *Dispatcher
	ReportDir  string
	WriteFiles bool
}

func (n *PipelineNotifier) dispatch(ctx context.Context, body string) error {
	if n.Dispatcher == nil || !n.Dispatcher.Enabled() {
		return nil
	}
	return n.Dispatcher.Dispatch(ctx, body)
}

// SendStock delivers one single-symbol report.
func (n *PipelineNotifier) SendStock(ctx context.Context, r *analysis.AnalysisResult) error {
	return n.dispatch(ctx, BuildStockReport(r))
}

// SendBatch delivers the end-of-run dashboard and mirrors it to disk.
func (n *PipelineNotifier) SendBatch(ctx context.Context, results []*analysis.AnalysisResult) error {
	body := BuildDashboard(results)
	if n.WriteFiles {
		if _, err := WriteReportFile(n.ReportDir, DailyReportName(time.Now()), body); err != nil {
			return err
		}
	}
	return n.dispatch(ctx, body)
}
