package market

import (
	"testing"
	"time"
)

func day(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestNormalizeSortsDedupsAndReconstructs(t *testing.T) {
	s := &CandleSeries{
		Code: "600519",
		Candles: []Candle{
			{Date: day("2025-01-03"), Open: 10, High: 11, Low: 9.5, Close: 10.5, Volume: 1000},
			{Date: day("2025-01-02"), Open: 10, High: 10.5, Low: 9.8, Close: 10.2, Volume: 900, Amount: 9180},
			{Date: day("2025-01-03"), Open: 10.1, High: 11.2, Low: 9.6, Close: 10.6, Volume: 1100, Amount: 11660},
			{Date: day("2025-01-04"), Open: 0, High: 0, Low: 0, Close: 0, Volume: 0}, // dropped
		},
	}
	s.Normalize()

	if len(s.Candles) != 2 {
		t.Fatalf("expected 2 candles after normalize, got %d", len(s.Candles))
	}
	if !s.Candles[0].Date.Equal(day("2025-01-02")) {
		t.Errorf("expected ascending order, first date %s", s.Candles[0].Date)
	}
	// Duplicate day keeps the last observation.
	if s.Candles[1].Close != 10.6 {
		t.Errorf("dedup kept wrong row: close=%v", s.Candles[1].Close)
	}
	if err := s.Validate(); err != nil {
		t.Errorf("Validate after Normalize: %v", err)
	}
}

func TestNormalizeReconstructsAmount(t *testing.T) {
	s := &CandleSeries{Candles: []Candle{
		{Date: day("2025-01-02"), Open: 10, High: 10, Low: 10, Close: 10, Volume: 500},
	}}
	s.Normalize()
	if got := s.Candles[0].Amount; got != 5000 {
		t.Errorf("amount = %v, want 5000", got)
	}
}

func TestValidateRejectsBadRows(t *testing.T) {
	cases := []struct {
		name    string
		candles []Candle
	}{
		{"descending dates", []Candle{
			{Date: day("2025-01-03"), Open: 1, High: 1, Low: 1, Close: 1},
			{Date: day("2025-01-02"), Open: 1, High: 1, Low: 1, Close: 1},
		}},
		{"duplicate dates", []Candle{
			{Date: day("2025-01-02"), Open: 1, High: 1, Low: 1, Close: 1},
			{Date: day("2025-01-02"), Open: 1, High: 1, Low: 1, Close: 1},
		}},
		{"low above close", []Candle{
			{Date: day("2025-01-02"), Open: 10, High: 11, Low: 10.5, Close: 10.2},
		}},
		{"high below open", []Candle{
			{Date: day("2025-01-02"), Open: 11, High: 10, Low: 9, Close: 9.5},
		}},
		{"negative volume", []Candle{
			{Date: day("2025-01-02"), Open: 1, High: 1, Low: 1, Close: 1, Volume: -1},
		}},
	}
	for _, tc := range cases {
		s := &CandleSeries{Candles: tc.candles}
		if err := s.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestLastAndCloses(t *testing.T) {
	var empty CandleSeries
	if _, ok := empty.Last(); ok {
		t.Error("Last on empty series should report false")
	}
	s := &CandleSeries{Candles: []Candle{
		{Date: day("2025-01-02"), Close: 10},
		{Date: day("2025-01-03"), Close: 11},
	}}
	last, ok := s.Last()
	if !ok || last.Close != 11 {
		t.Errorf("Last = %v, %v", last.Close, ok)
	}
	closes := s.Closes()
	if len(closes) != 2 || closes[0] != 10 || closes[1] != 11 {
		t.Errorf("Closes = %v", closes)
	}
}
