package models

type Side string
type OrderStatus string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"

	StatusNew             OrderStatus = "NEW"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCanceled        OrderStatus = "CANCELED"
	StatusRejected        OrderStatus = "REJECTED"
	StatusExpired         OrderStatus = "EXPIRED"
)

// IsKnown reports whether s is part of the documented status taxonomy.
// Unknown statuses are kept as-is for forward compatibility.
func (s OrderStatus) IsKnown() bool {
	switch s {
	case StatusNew, StatusPartiallyFilled, StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// IsTerminal reports whether no further updates are expected for the order.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// MOrder is identified by ID; Price is nil for market orders.
type MOrder struct {
	ID        string      `json:"id"`
	Symbol    string      `json:"symbol"`
	Side      Side        `json:"side"`
	Quantity  float64     `json:"quantity"`
	Price     *float64    `json:"price"`
	Status    OrderStatus `json:"status"`
	Timestamp int64       `json:"ts_ms"`
}

// MFill is a single execution.
type MFill struct {
	ID        string   `json:"id"`
	Symbol    string   `json:"symbol"`
	Side      Side     `json:"side"`
	Quantity  float64  `json:"quantity"`
	Price     float64  `json:"price"`
	Fee       *float64 `json:"fee,omitempty"`
	IsMaker   *bool    `json:"is_maker,omitempty"`
	Timestamp int64    `json:"ts_ms"`
}
