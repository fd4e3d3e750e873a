package eastmoney

// clistResponse wraps the push2 clist/ulist endpoints. Numeric fields may
// arrive as the string "-" for suspended stocks, so everything decodes
// through the lenient jsonNum type.
type clistResponse struct {
	Data *struct {
		Total int         `json:"total"`
		Diff  []clistItem `json:"diff"`
	} `json:"data"`
}

type clistItem struct {
	Code        string  `json:"f12"`
	Name        string  `json:"f14"`
	Price       jsonNum `json:"f2"`
	ChangePct   jsonNum `json:"f3"`
	Change      jsonNum `json:"f4"`
	Volume      jsonNum `json:"f5"`
	Amount      jsonNum `json:"f6"`
	Turnover    jsonNum `json:"f8"`
	PE          jsonNum `json:"f9"`
	VolumeRatio jsonNum `json:"f10"`
	High        jsonNum `json:"f15"`
	Low         jsonNum `json:"f16"`
	Open        jsonNum `json:"f17"`
	PrevClose   jsonNum `json:"f18"`
	TotalMV     jsonNum `json:"f20"`
	CircMV      jsonNum `json:"f21"`
	PB          jsonNum `json:"f23"`
	LeadStock   string  `json:"f128"`
}

// klineResponse wraps the push2his kline endpoint. Each kline is a comma
// string: date,open,close,high,low,volume,amount,amplitude,pct,change,turnover.
type klineResponse struct {
	Data *struct {
		Code   string   `json:"code"`
		Name   string   `json:"name"`
		Klines []string `json:"klines"`
	} `json:"data"`
}

// cyqResponse wraps the push2ex chip-distribution endpoint.
type cyqResponse struct {
	Data *struct {
		Code string    `json:"code"`
		Data []cyqItem `json:"data"`
	} `json:"data"`
}

type cyqItem struct {
	Date            int     `json:"date"` // 20250822
	ProfitRatio     float64 `json:"benefitPart"`
	AvgCost         float64 `json:"avgCost"`
	Cost90Low       float64 `json:"cost90Low"`
	Cost90High      float64 `json:"cost90High"`
	Concentration90 float64 `json:"cost90Concentrate"`
	Cost70Low       float64 `json:"cost70Low"`
	Cost70High      float64 `json:"cost70High"`
	Concentration70 float64 `json:"cost70Concentrate"`
}
