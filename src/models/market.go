package models

// MLevel is one price level of an L2 book side.
type MLevel struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// MQuote is replaced wholesale on every update, never merged field by field.
type MQuote struct {
	Symbol    string   `json:"symbol"`
	Bid       float64  `json:"bid"`
	Ask       float64  `json:"ask"`
	Mid       float64  `json:"mid"`
	Spread    float64  `json:"spread"`
	Bids      []MLevel `json:"bids,omitempty"`
	Asks      []MLevel `json:"asks,omitempty"`
	Timestamp int64    `json:"ts_ms,omitempty"`
}

// MPosition holds the single live position for a symbol.
type MPosition struct {
	Symbol        string  `json:"symbol"`
	Quantity      float64 `json:"quantity"`
	AvgPrice      float64 `json:"avg_price"`
	RealizedPnl   float64 `json:"realized_pnl"`
	UnrealizedPnl float64 `json:"unrealized_pnl"`
	Timestamp     int64   `json:"ts_ms,omitempty"`
}
