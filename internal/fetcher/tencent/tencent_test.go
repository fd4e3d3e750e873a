package tencent

import (
	"testing"

	"github.com/seenimoa/stockwatch/internal/market"
)

// samplePayload mirrors the qt.gtimg.cn field layout after GBK decoding.
func samplePayload() string {
	fields := make([]string, 50)
	fields[0] = "1"
	fields[fName] = "贵州茅台"
	fields[2] = "600519"
	fields[fPrice] = "1700.00"
	fields[fPrevClose] = "1690.00"
	fields[fOpen] = "1692.50"
	fields[fTime] = "20250822161403"
	fields[fChange] = "10.00"
	fields[fChangePct] = "0.59"
	fields[fHigh] = "1712.00"
	fields[fLow] = "1688.00"
	fields[fVolume] = "25000"
	fields[fAmount] = "425000"
	fields[fTurnover] = "0.20"
	fields[fPE] = "30.5"
	fields[fAmplitude] = "1.42"
	fields[fCircMV] = "21350"
	fields[fTotalMV] = "21350"
	fields[fPB] = "8.9"

	body := `v_sh600519="`
	for i, f := range fields {
		if i > 0 {
			body += "~"
		}
		body += f
	}
	return body + `";`
}

func TestParseQuote(t *testing.T) {
	sym, err := market.Classify("600519")
	if err != nil {
		t.Fatal(err)
	}
	q, err := parseQuote(sym, samplePayload())
	if err != nil {
		t.Fatalf("parseQuote: %v", err)
	}
	if q == nil || !q.HasBasicData() {
		t.Fatalf("quote unusable: %+v", q)
	}
	if q.Name != "贵州茅台" || q.Price != 1700 || q.PrevClose != 1690 {
		t.Errorf("core fields wrong: %+v", q)
	}
	if q.Volume != 2500000 {
		t.Errorf("volume = %d, want lots*100", q.Volume)
	}
	if q.Amount != 4.25e9 {
		t.Errorf("amount = %v, want 万元*10000", q.Amount)
	}
	if q.TotalMV != 21350*1e8 {
		t.Errorf("total mv = %v", q.TotalMV)
	}
	if q.Source != "tencent" {
		t.Errorf("source = %s", q.Source)
	}
	if q.Timestamp.Year() != 2025 || q.Timestamp.Month() != 8 {
		t.Errorf("timestamp = %v", q.Timestamp)
	}
}

func TestParseQuoteAbsence(t *testing.T) {
	sym, _ := market.Classify("600519")
	for _, body := range []string{"", `v_pv_none_match="1";`} {
		q, err := parseQuote(sym, body)
		if q != nil || err != nil {
			t.Errorf("parseQuote(%q) = %v, %v; want nil, nil", body, q, err)
		}
	}
}

func TestParseQuoteMalformed(t *testing.T) {
	sym, _ := market.Classify("600519")
	if _, err := parseQuote(sym, `v_sh600519="1~too~short";`); err == nil {
		t.Error("expected error for short payload")
	}
	if _, err := parseQuote(sym, `no quotes at all`); err == nil {
		t.Error("expected error for malformed payload")
	}
}

func TestParseQuoteSuspendedIsAbsent(t *testing.T) {
	sym, _ := market.Classify("600519")
	body := samplePayload()
	// Zero price (suspended) must map to absence, not a bogus quote.
	q, err := parseQuote(sym, replaceField(body, fPrice, "0.00"))
	if q != nil || err != nil {
		t.Errorf("suspended quote = %v, %v; want nil, nil", q, err)
	}
}

func replaceField(body string, idx int, val string) string {
	open := -1
	for i, r := range body {
		if r == '"' {
			open = i
			break
		}
	}
	inner := body[open+1 : len(body)-2]
	parts := []string{}
	start := 0
	for i := 0; i <= len(inner); i++ {
		if i == len(inner) || inner[i] == '~' {
			parts = append(parts, inner[start:i])
			start = i + 1
		}
	}
	parts[idx] = val
	out := body[:open+1]
	for i, p := range parts {
		if i > 0 {
			out += "~"
		}
		out += p
	}
	return out + `";`
}
