package market

import "time"

// RealtimeQuote is the unified realtime snapshot for one symbol. Every
// numeric field is optional; a quote is considered usable iff Price is set.
// Source identifies the upstream that produced it (a fetcher source key).
type RealtimeQuote struct {
	Code         string    `json:"code"`
	Name         string    `json:"name,omitempty"`
	Source       string    `json:"source"`
	Price        float64   `json:"price"`
	ChangePct    float64   `json:"change_pct"`
	ChangeAmount float64   `json:"change_amount"`
	Volume       int64     `json:"volume"`
	Amount       float64   `json:"amount"`
	VolumeRatio  float64   `json:"volume_ratio,omitempty"`
	TurnoverRate float64   `json:"turnover_rate,omitempty"`
	Amplitude    float64   `json:"amplitude,omitempty"`
	Open         float64   `json:"open"`
	High         float64   `json:"high"`
	Low          float64   `json:"low"`
	PrevClose    float64   `json:"pre_close"`
	PE           float64   `json:"pe,omitempty"`
	PB           float64   `json:"pb,omitempty"`
	TotalMV      float64   `json:"total_mv,omitempty"`
	CircMV       float64   `json:"circ_mv,omitempty"`
	WeekHigh52   float64   `json:"high_52w,omitempty"`
	WeekLow52    float64   `json:"low_52w,omitempty"`
	Change60D    float64   `json:"change_60d,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// HasBasicData reports whether the quote carries the minimum usable payload.
func (q *RealtimeQuote) HasBasicData() bool {
	return q != nil && q.Price > 0
}

// ChipDistribution is the latest cost-basis statistic for one symbol. Ratios
// are fractions in [0,1].
type ChipDistribution struct {
	Code            string    `json:"code"`
	Date            time.Time `json:"date"`
	ProfitRatio     float64   `json:"profit_ratio"`
	AvgCost         float64   `json:"avg_cost"`
	Cost90Low       float64   `json:"cost_90_low"`
	Cost90High      float64   `json:"cost_90_high"`
	Concentration90 float64   `json:"concentration_90"`
	Cost70Low       float64   `json:"cost_70_low"`
	Cost70High      float64   `json:"cost_70_high"`
	Concentration70 float64   `json:"concentration_70"`
}

// IndexQuote is one major-index row in a market overview.
type IndexQuote struct {
	Code      string  `json:"code"`
	Name      string  `json:"name"`
	Current   float64 `json:"current"`
	Change    float64 `json:"change"`
	ChangePct float64 `json:"change_pct"`
	Volume    int64   `json:"volume"`
	Amount    float64 `json:"amount"`
}

// MarketStats aggregates breadth statistics for the whole market.
type MarketStats struct {
	UpCount        int     `json:"up_count"`
	DownCount      int     `json:"down_count"`
	FlatCount      int     `json:"flat_count"`
	LimitUpCount   int     `json:"limit_up_count"`
	LimitDownCount int     `json:"limit_down_count"`
	TotalAmount    float64 `json:"total_amount"`
}

// SectorRank is one row of a sector leaders/laggards ranking.
type SectorRank struct {
	Name      string  `json:"name"`
	ChangePct float64 `json:"change_pct"`
	LeadStock string  `json:"lead_stock,omitempty"`
}
