package market

import (
	"math"
	"testing"
)

func makeSeries(closes []float64, volumes []int64) *CandleSeries {
	start := day("2025-01-01")
	candles := make([]Candle, len(closes))
	for i := range closes {
		candles[i] = Candle{
			Date:   start.AddDate(0, 0, i),
			Open:   closes[i],
			High:   closes[i] + 1,
			Low:    closes[i] - 1,
			Close:  closes[i],
			Volume: volumes[i],
		}
	}
	return &CandleSeries{Code: "600519", Candles: candles}
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestEnrichMovingAverages(t *testing.T) {
	closes := []float64{10, 11, 12, 13, 14, 15, 16}
	vols := []int64{100, 100, 100, 100, 100, 100, 100}
	rows := Enrich(makeSeries(closes, vols))

	// Short history shrinks the window instead of producing zeros.
	if !approx(rows[0].MA5, 10) {
		t.Errorf("MA5[0] = %v, want 10", rows[0].MA5)
	}
	if !approx(rows[2].MA5, 11) {
		t.Errorf("MA5[2] = %v, want 11", rows[2].MA5)
	}
	if !approx(rows[6].MA5, 14) { // mean(12..16)
		t.Errorf("MA5[6] = %v, want 14", rows[6].MA5)
	}
	if !approx(rows[6].MA10, 13) { // mean(10..16)
		t.Errorf("MA10[6] = %v, want 13", rows[6].MA10)
	}
	if !approx(rows[6].MA20, 13) {
		t.Errorf("MA20[6] = %v, want 13", rows[6].MA20)
	}
}

func TestEnrichBias(t *testing.T) {
	closes := []float64{10, 10, 10, 10, 15}
	vols := []int64{100, 100, 100, 100, 100}
	rows := Enrich(makeSeries(closes, vols))

	ma5 := (10.0 + 10 + 10 + 10 + 15) / 5
	want := (15 - ma5) / ma5
	if !approx(rows[4].BiasMA5, want) {
		t.Errorf("BiasMA5 = %v, want %v", rows[4].BiasMA5, want)
	}
}

func TestEnrichVolumeRatio(t *testing.T) {
	closes := []float64{10, 10, 10, 10, 10, 10}
	vols := []int64{100, 100, 100, 100, 100, 300}
	rows := Enrich(makeSeries(closes, vols))

	if !approx(rows[0].VolumeRatio, 1.0) {
		t.Errorf("VolumeRatio[0] = %v, want 1.0 with no history", rows[0].VolumeRatio)
	}
	if !approx(rows[5].VolumeRatio, 3.0) {
		t.Errorf("VolumeRatio[5] = %v, want 3.0", rows[5].VolumeRatio)
	}
}

func TestEnrichVolumeRatioZeroHistory(t *testing.T) {
	closes := []float64{10, 10, 10}
	vols := []int64{0, 0, 500}
	rows := Enrich(makeSeries(closes, vols))
	if !approx(rows[2].VolumeRatio, 1.0) {
		t.Errorf("VolumeRatio = %v, want 1.0 when prior mean is zero", rows[2].VolumeRatio)
	}
}

func TestEnrichSupportResistance(t *testing.T) {
	closes := make([]float64, 25)
	vols := make([]int64, 25)
	for i := range closes {
		closes[i] = 10 + float64(i)
		vols[i] = 100
	}
	rows := Enrich(makeSeries(closes, vols))

	// Window on the last row covers indexes 5..24: low = close-1, high = close+1.
	last := rows[24]
	if !approx(last.Support, closes[5]-1) {
		t.Errorf("Support = %v, want %v", last.Support, closes[5]-1)
	}
	if !approx(last.Resistance, closes[24]+1) {
		t.Errorf("Resistance = %v, want %v", last.Resistance, closes[24]+1)
	}
}

func TestEnrichEmptySeries(t *testing.T) {
	rows := Enrich(&CandleSeries{})
	if len(rows) != 0 {
		t.Errorf("expected no rows, got %d", len(rows))
	}
}

func TestEnrichPreservesCandleFields(t *testing.T) {
	s := makeSeries([]float64{10}, []int64{100})
	rows := Enrich(s)
	if !rows[0].Date.Equal(day("2025-01-01")) || rows[0].Close != 10 {
		t.Errorf("embedded candle mangled: %+v", rows[0].Candle)
	}
}
