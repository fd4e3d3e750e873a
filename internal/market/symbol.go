// Package market defines the core market-data value types used throughout
// StockWatch: symbols, candles, realtime quotes, chip distributions, and the
// indicator calculations that enrich a candle series.
package market

import (
	"fmt"
	"regexp"
	"strings"
)

// Market tags a symbol with the venue it trades on. The tag drives per-source
// ticker formatting and routing decisions in the fetcher layer.
type Market string

const (
	MarketAShareSH Market = "ashare_sh"
	MarketAShareSZ Market = "ashare_sz"
	MarketETFSH    Market = "etf_sh"
	MarketETFSZ    Market = "etf_sz"
	MarketHK       Market = "hk"
	MarketTW       Market = "tw"
	MarketUS       Market = "us"
	MarketIndex    Market = "index"
)

// Symbol is the classified form of a user-supplied ticker. It is an immutable
// value; two symbols are equal iff (Market, Code) are equal.
type Symbol struct {
	Raw    string `json:"raw"`    // input as the user typed it
	Code   string `json:"code"`   // canonical code: "600519", "00700", "2330", "AAPL"
	Market Market `json:"market"`
}

var (
	reAShare  = regexp.MustCompile(`^(\d{6})(\.(SS|SH|SZ))?$`)
	reHKDot   = regexp.MustCompile(`^(\d{4,5})\.HK$`)
	reHKPfx   = regexp.MustCompile(`^HK(\d{5})$`)
	reTW      = regexp.MustCompile(`^(\d{4})\.TWO?$`)
	reUS      = regexp.MustCompile(`^[A-Z]{1,5}(\.[A-Z]{1,2})?$`)
	reIdxPfx  = regexp.MustCompile(`^(?i:(sh|sz))(\d{6})$`)
)

// etfPrefixes are the leading two digits that mark a 6-digit code as an ETF
// rather than a regular A-share listing.
var etfPrefixes = map[string]bool{
	"51": true, "52": true, "56": true, "58": true, // Shanghai ETFs
	"15": true, "16": true, "18": true, // Shenzhen ETFs/LOFs
}

// shPrefixes route a 6-digit A-share code to the Shanghai exchange.
var shPrefixes = []string{"600", "601", "603", "605", "688", "689"}

// indexCodes are the well-known composite index codes accepted as watchlist
// entries when written with an explicit sh/sz prefix or exchange suffix.
var indexCodes = map[string]bool{
	"000001": true, // SSE Composite (sh prefix only)
	"000016": true, "000300": true, "000688": true, "000852": true, "000905": true,
	"399001": true, "399006": true, "399005": true,
}

// Classify parses a raw ticker into a Symbol. It is the single source of
// truth for ticker shape; fetchers never re-parse raw input.
//
// Accepted shapes:
//
//	600519, 600519.SH, 600519.SS  A-share / ETF by leading digits
//	0700.HK, HK00700              Hong Kong
//	2330.TW, 6547.TWO             Taiwan
//	AAPL, BRK.A                   US
//	sh000001, 000300.SH           index (known composite codes)
func Classify(raw string) (Symbol, error) {
	in := strings.TrimSpace(raw)
	if in == "" {
		return Symbol{}, fmt.Errorf("classify: empty symbol")
	}
	up := strings.ToUpper(in)

	// Explicit sh/sz prefixed codes: index shorthand like sh000001, sz399001.
	if m := reIdxPfx.FindStringSubmatch(in); m != nil {
		code := m[2]
		if indexCodes[code] {
			return Symbol{Raw: raw, Code: code, Market: MarketIndex}, nil
		}
		return classifyAShare(raw, code, strings.EqualFold(m[1], "sh"))
	}

	if m := reAShare.FindStringSubmatch(up); m != nil {
		code := m[1]
		suffix := m[3]
		// A known index code with an explicit Shanghai suffix is an index;
		// the bare 6-digit form stays a stock (000001 = Ping An Bank).
		if (suffix == "SS" || suffix == "SH") && indexCodes[code] {
			return Symbol{Raw: raw, Code: code, Market: MarketIndex}, nil
		}
		return classifyAShare(raw, code, suffix == "SS" || suffix == "SH")
	}

	if m := reHKDot.FindStringSubmatch(up); m != nil {
		return Symbol{Raw: raw, Code: padHK(m[1]), Market: MarketHK}, nil
	}
	if m := reHKPfx.FindStringSubmatch(up); m != nil {
		return Symbol{Raw: raw, Code: m[1], Market: MarketHK}, nil
	}
	if m := reTW.FindStringSubmatch(up); m != nil {
		return Symbol{Raw: raw, Code: m[1], Market: MarketTW}, nil
	}
	if reUS.MatchString(up) {
		return Symbol{Raw: raw, Code: up, Market: MarketUS}, nil
	}

	return Symbol{}, fmt.Errorf("classify: unrecognized symbol %q", raw)
}

// classifyAShare resolves a bare 6-digit code to its exchange and ETF-ness.
// suffixSH records an explicit .SS/.SH suffix, which overrides the prefix
// heuristic.
func classifyAShare(raw, code string, suffixSH bool) (Symbol, error) {
	isETF := etfPrefixes[code[:2]]

	sh := suffixSH
	if !sh {
		if isETF {
			sh = code[0] == '5'
		} else {
			for _, p := range shPrefixes {
				if strings.HasPrefix(code, p) {
					sh = true
					break
				}
			}
		}
	}

	switch {
	case isETF && sh:
		return Symbol{Raw: raw, Code: code, Market: MarketETFSH}, nil
	case isETF:
		return Symbol{Raw: raw, Code: code, Market: MarketETFSZ}, nil
	case sh:
		return Symbol{Raw: raw, Code: code, Market: MarketAShareSH}, nil
	default:
		return Symbol{Raw: raw, Code: code, Market: MarketAShareSZ}, nil
	}
}

func padHK(code string) string {
	for len(code) < 5 {
		code = "0" + code
	}
	return code
}

// IsETF reports whether the symbol is an exchange-traded fund.
func (s Symbol) IsETF() bool { return s.Market == MarketETFSH || s.Market == MarketETFSZ }

// IsIndex reports whether the symbol is a composite index.
func (s Symbol) IsIndex() bool { return s.Market == MarketIndex }

// IsUS reports whether the symbol trades on a US exchange.
func (s Symbol) IsUS() bool { return s.Market == MarketUS }

// IsAShare reports whether the symbol is a mainland listing (stock or ETF).
func (s Symbol) IsAShare() bool {
	switch s.Market {
	case MarketAShareSH, MarketAShareSZ, MarketETFSH, MarketETFSZ:
		return true
	}
	return false
}

func (s Symbol) shanghai() bool {
	switch s.Market {
	case MarketAShareSH, MarketETFSH:
		return true
	case MarketIndex:
		return strings.HasPrefix(s.Code, "000")
	}
	return false
}

// TencentCode formats the symbol for the Tencent quote endpoint: sh600519,
// sz000001, hk00700, usAAPL.
func (s Symbol) TencentCode() string {
	switch s.Market {
	case MarketHK:
		return "hk" + s.Code
	case MarketUS:
		return "us" + s.Code
	case MarketTW:
		return "tw" + s.Code
	}
	if s.shanghai() {
		return "sh" + s.Code
	}
	return "sz" + s.Code
}

// TushareCode formats the symbol for Tushare Pro: 600519.SH, 000001.SZ.
func (s Symbol) TushareCode() string {
	if s.shanghai() {
		return s.Code + ".SH"
	}
	return s.Code + ".SZ"
}

// BaostockCode formats the symbol for Baostock: sh.600519, sz.000001.
func (s Symbol) BaostockCode() string {
	if s.shanghai() {
		return "sh." + s.Code
	}
	return "sz." + s.Code
}

// YahooTicker formats the symbol for Yahoo Finance: 600519.SS, 000001.SZ,
// 0700.HK, 2330.TW, AAPL.
func (s Symbol) YahooTicker() string {
	switch s.Market {
	case MarketUS:
		return s.Code
	case MarketHK:
		return strings.TrimPrefix(s.Code, "0") + ".HK"
	case MarketTW:
		return s.Code + ".TW"
	}
	if s.shanghai() {
		return s.Code + ".SS"
	}
	return s.Code + ".SZ"
}

// EastmoneySecID formats the symbol as an EastMoney secid: 1.600519 for
// Shanghai, 0.000001 for Shenzhen, 116.00700 for Hong Kong.
func (s Symbol) EastmoneySecID() string {
	switch s.Market {
	case MarketHK:
		return "116." + s.Code
	case MarketUS:
		return "105." + s.Code
	}
	if s.shanghai() {
		return "1." + s.Code
	}
	return "0." + s.Code
}

// String returns the canonical display form, e.g. "600519" or "AAPL".
func (s Symbol) String() string { return s.Code }
