package market

import (
	"fmt"
	"sort"
	"time"
)

// Candle is one trading day for one symbol, in canonical units: volume in
// shares, amount in base currency units.
type Candle struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
	Amount float64   `json:"amount"`
	PctChg float64   `json:"pct_chg"`
}

// EnrichedCandle is a Candle plus the derived indicator fields. Early rows
// degrade gracefully: the MAs use whatever window is available.
type EnrichedCandle struct {
	Candle
	MA5         float64 `json:"ma5"`
	MA10        float64 `json:"ma10"`
	MA20        float64 `json:"ma20"`
	VolumeRatio float64 `json:"volume_ratio"`
	BiasMA5     float64 `json:"bias_ma5"`
	Support     float64 `json:"support"`
	Resistance  float64 `json:"resistance"`
}

// CandleSeries is a normalized daily series for one symbol, ascending by
// date with no duplicates. Source names the fetcher that produced it; it is
// stamped by the routing layer, not by fetchers.
type CandleSeries struct {
	Code    string   `json:"code"`
	Source  string   `json:"source,omitempty"`
	Candles []Candle `json:"candles"`
}

// Len returns the number of candles in the series.
func (s *CandleSeries) Len() int { return len(s.Candles) }

// Last returns the most recent candle, or false for an empty series.
func (s *CandleSeries) Last() (Candle, bool) {
	if len(s.Candles) == 0 {
		return Candle{}, false
	}
	return s.Candles[len(s.Candles)-1], true
}

// Closes returns the close column.
func (s *CandleSeries) Closes() []float64 {
	out := make([]float64, len(s.Candles))
	for i, c := range s.Candles {
		out[i] = c.Close
	}
	return out
}

// Normalize sorts the series ascending by date, drops duplicate dates
// (keeping the last observation), discards rows without a close price, and
// reconstructs a missing amount as volume*close. Every fetcher passes its
// output through Normalize before returning it.
func (s *CandleSeries) Normalize() {
	kept := s.Candles[:0]
	for _, c := range s.Candles {
		if c.Close <= 0 {
			continue
		}
		if c.Amount == 0 && c.Volume > 0 {
			c.Amount = float64(c.Volume) * c.Close
		}
		kept = append(kept, c)
	}
	s.Candles = kept

	sort.SliceStable(s.Candles, func(i, j int) bool {
		return s.Candles[i].Date.Before(s.Candles[j].Date)
	})

	dedup := s.Candles[:0]
	for _, c := range s.Candles {
		if n := len(dedup); n > 0 && sameDay(dedup[n-1].Date, c.Date) {
			dedup[n-1] = c
			continue
		}
		dedup = append(dedup, c)
	}
	s.Candles = dedup
}

// Validate checks the series invariants: strictly ascending dates and
// low <= open,close <= high with non-negative volume/amount on every row.
func (s *CandleSeries) Validate() error {
	var prev time.Time
	for i, c := range s.Candles {
		if i > 0 && !c.Date.After(prev) {
			return fmt.Errorf("candle %d (%s): dates not strictly ascending", i, c.Date.Format("2006-01-02"))
		}
		prev = c.Date
		if c.Low > c.Open || c.Low > c.Close || c.High < c.Open || c.High < c.Close {
			return fmt.Errorf("candle %d (%s): OHLC out of range low=%.4f open=%.4f close=%.4f high=%.4f",
				i, c.Date.Format("2006-01-02"), c.Low, c.Open, c.Close, c.High)
		}
		if c.Volume < 0 || c.Amount < 0 {
			return fmt.Errorf("candle %d (%s): negative volume or amount", i, c.Date.Format("2006-01-02"))
		}
	}
	return nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
