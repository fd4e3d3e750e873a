// Package tencent implements the per-symbol realtime quote source backed
// by qt.gtimg.cn. The endpoint is extremely stable and cheap, but carries
// fewer fields than the snapshot sources and offers no whole-market pull.
//
// Response shape: `v_sh600519="1~贵州茅台~600519~1700.00~...";` with
// `~`-separated fields, GBK encoded. Volume arrives in lots (100 shares)
// and turnover in 万元; both are converted to canonical units here.
package tencent

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding/simplifiedchinese"

	"github.com/seenimoa/stockwatch/internal/fetcher"
	"github.com/seenimoa/stockwatch/internal/infra"
	"github.com/seenimoa/stockwatch/internal/market"
)

const (
	sourceName = "tencent"
	quoteURL   = "https://qt.gtimg.cn/q=%s"
)

// field indexes within the ~-separated payload.
const (
	fName      = 1
	fPrice     = 3
	fPrevClose = 4
	fOpen      = 5
	fTime      = 30
	fChange    = 31
	fChangePct = 32
	fHigh      = 33
	fLow       = 34
	fVolume    = 36
	fAmount    = 37
	fTurnover  = 38
	fPE        = 39
	fAmplitude = 43
	fCircMV    = 44
	fTotalMV   = 45
	fPB        = 46
)

// Source is the Tencent quote source.
type Source struct {
	fetcher.BaseSource
}

// New builds the source.
func New(priority int, gate *infra.RateGate, client *http.Client) *Source {
	return &Source{BaseSource: fetcher.NewBaseSource(sourceName, priority, gate, client)}
}

// Quote fetches one realtime quote. Unknown symbols return (nil, nil).
func (s *Source) Quote(ctx context.Context, sym market.Symbol) (*market.RealtimeQuote, error) {
	if err := s.Wait(ctx); err != nil {
		return nil, err
	}
	raw, err := infra.DoGet(ctx, s.Client(), fmt.Sprintf(quoteURL, sym.TencentCode()), map[string]string{
		"Referer": "https://gu.qq.com/",
	})
	if err != nil {
		return nil, err
	}
	decoded, err := simplifiedchinese.GBK.NewDecoder().Bytes(raw)
	if err != nil {
		// Some variants already arrive as UTF-8.
		decoded = raw
	}
	return parseQuote(sym, string(decoded))
}

// parseQuote parses one `v_xxx="..."` line. An unlisted code yields the
// `v_pv_none_match` marker or an empty payload; both map to absence.
func parseQuote(sym market.Symbol, body string) (*market.RealtimeQuote, error) {
	body = strings.TrimSpace(body)
	if body == "" || strings.Contains(body, "none_match") {
		return nil, nil
	}
	open := strings.IndexByte(body, '"')
	close_ := strings.LastIndexByte(body, '"')
	if open < 0 || close_ <= open {
		return nil, fmt.Errorf("tencent: malformed payload for %s", sym.Code)
	}
	fields := strings.Split(body[open+1:close_], "~")
	if len(fields) < fPB+1 {
		return nil, fmt.Errorf("tencent: short payload for %s: %d fields", sym.Code, len(fields))
	}

	q := &market.RealtimeQuote{
		Code:         sym.Code,
		Name:         fields[fName],
		Source:       sourceName,
		Price:        num(fields[fPrice]),
		PrevClose:    num(fields[fPrevClose]),
		Open:         num(fields[fOpen]),
		ChangeAmount: num(fields[fChange]),
		ChangePct:    num(fields[fChangePct]),
		High:         num(fields[fHigh]),
		Low:          num(fields[fLow]),
		Volume:       int64(num(fields[fVolume]) * 100),   // lots → shares
		Amount:       num(fields[fAmount]) * 10000,        // 万元 → yuan
		TurnoverRate: num(fields[fTurnover]),
		PE:           num(fields[fPE]),
		Amplitude:    num(fields[fAmplitude]),
		CircMV:       num(fields[fCircMV]) * 1e8, // 亿 → yuan
		TotalMV:      num(fields[fTotalMV]) * 1e8,
		PB:           num(fields[fPB]),
		Timestamp:    parseTime(fields[fTime]),
	}
	if q.Price <= 0 {
		return nil, nil
	}
	return q, nil
}

func num(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

func parseTime(s string) time.Time {
	// 20250824161403 in exchange-local time.
	t, err := time.ParseInLocation("20060102150405", strings.TrimSpace(s), time.Local)
	if err != nil {
		return time.Now()
	}
	return t
}

// StockName resolves the display name via the quote payload.
func (s *Source) StockName(ctx context.Context, sym market.Symbol) (string, error) {
	q, err := s.Quote(ctx, sym)
	if err != nil || q == nil {
		return "", err
	}
	return q.Name, nil
}

// StockList is not offered by this endpoint.
func (s *Source) StockList(ctx context.Context) (map[string]string, error) {
	return nil, nil
}
