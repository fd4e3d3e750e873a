package market

// Indicator enrichment over a normalized candle series. All functions here
// are pure and deterministic; series shorter than the nominal windows fall
// back to whatever history is available (min_periods = 1 semantics).

const (
	srWindow = 20 // rolling window for support/resistance
)

// Enrich computes MA5/MA10/MA20, volume ratio, 5-day bias, and rolling
// 20-day support/resistance for every row of the series.
func Enrich(s *CandleSeries) []EnrichedCandle {
	n := len(s.Candles)
	out := make([]EnrichedCandle, n)

	for i, c := range s.Candles {
		e := EnrichedCandle{Candle: c}

		e.MA5 = trailingMean(s.Candles, i, 5)
		e.MA10 = trailingMean(s.Candles, i, 10)
		e.MA20 = trailingMean(s.Candles, i, 20)
		if e.MA5 > 0 {
			e.BiasMA5 = (c.Close - e.MA5) / e.MA5
		}
		e.VolumeRatio = volumeRatio(s.Candles, i)
		e.Support, e.Resistance = rollingExtremes(s.Candles, i, srWindow)

		out[i] = e
	}
	return out
}

// trailingMean averages the closes of the window ending at index i,
// inclusive. Windows larger than the available history shrink to fit.
func trailingMean(candles []Candle, i, window int) float64 {
	lo := i - window + 1
	if lo < 0 {
		lo = 0
	}
	var sum float64
	for j := lo; j <= i; j++ {
		sum += candles[j].Close
	}
	return sum / float64(i-lo+1)
}

// volumeRatio is volume[i] divided by the mean volume of the five prior
// days. With no prior history, or zero prior volume, the ratio is 1.0.
func volumeRatio(candles []Candle, i int) float64 {
	lo := i - 5
	if lo < 0 {
		lo = 0
	}
	if lo == i {
		return 1.0
	}
	var sum int64
	for j := lo; j < i; j++ {
		sum += candles[j].Volume
	}
	mean := float64(sum) / float64(i-lo)
	if mean <= 0 {
		return 1.0
	}
	return float64(candles[i].Volume) / mean
}

// rollingExtremes returns the low/high extremes of the window ending at
// index i, inclusive.
func rollingExtremes(candles []Candle, i, window int) (low, high float64) {
	lo := i - window + 1
	if lo < 0 {
		lo = 0
	}
	low, high = candles[lo].Low, candles[lo].High
	for j := lo + 1; j <= i; j++ {
		if candles[j].Low < low {
			low = candles[j].Low
		}
		if candles[j].High > high {
			high = candles[j].High
		}
	}
	return low, high
}
