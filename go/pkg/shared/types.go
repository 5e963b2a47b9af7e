package shared

import "ohlcv-pipeline/go/pkg/ohlcv"

// BarMessage is the JSON payload published for every resampled bar.
type BarMessage struct {
	Symbol     string  `json:"symbol"`
	TF         string  `json:"tf"`
	TS         int64   `json:"ts"` // window start, seconds epoch of the naive wall clock
	Datetime   string  `json:"datetime"`
	O          float64 `json:"o"`
	H          float64 `json:"h"`
	L          float64 `json:"l"`
	C          float64 `json:"c"`
	Vol        float64 `json:"vol"`
	OI         float64 `json:"oi"`
	ExpiryType string  `json:"expiry_type,omitempty"`
	ExpiryDate string  `json:"expiry_date,omitempty"`
}

func NewBarMessage(symbol, tf string, b ohlcv.Bar) BarMessage {
	return BarMessage{
		Symbol:     symbol,
		TF:         tf,
		TS:         b.Time.Unix(),
		Datetime:   b.Time.Format(ohlcv.TimeLayout),
		O:          b.Open,
		H:          b.High,
		L:          b.Low,
		C:          b.Close,
		Vol:        b.Volume,
		OI:         b.OpenInterest,
		ExpiryType: b.ExpiryType,
		ExpiryDate: b.ExpiryDate,
	}
}

// RawMessage carries one unparsed input row on the raw topic. Values are
// keyed by column name exactly as they appeared in the source.
type RawMessage struct {
	Symbol string            `json:"symbol"`
	Values map[string]string `json:"values"`
}
