package models

// -----------------------------------------------------------------------------
// State change events pushed to dashboards
// -----------------------------------------------------------------------------

const (
	EventOrders    = "orders"
	EventFills     = "fills"
	EventPositions = "positions"
	EventQuotes    = "quotes"
	EventMetrics   = "metrics"
	EventWatchlist = "watchlist"
)

// MStateEvent announces that the state of Kind changed for Symbols.
// Symbols is empty for kinds that are not per-symbol (metrics).
type MStateEvent struct {
	Kind      string   `json:"kind"`
	Symbols   []string `json:"symbols,omitempty"`
	Timestamp int64    `json:"timestamp"`
}

// -----------------------------------------------------------------------------
// Watchlist
// -----------------------------------------------------------------------------

type MWatchlistItem struct {
	Symbol  string `json:"symbol"`
	Running bool   `json:"running"`
}

// -----------------------------------------------------------------------------
// Push stream messages from the backend
// -----------------------------------------------------------------------------

const (
	StreamSnapshot = "snapshot"
	StreamQuotes   = "quotes"
	StreamPing     = "ping"
)

// MStreamMessage is the discriminated envelope of the backend stream.
// Quotes stay loosely typed until they pass through the normalizer: the
// backend sends either an array of quotes or an object keyed by symbol.
type MStreamMessage struct {
	Type   string      `json:"type"`
	Quotes interface{} `json:"quotes"`
	Ts     interface{} `json:"ts"`
}

// -----------------------------------------------------------------------------
// Client messages on the dashboard websocket
// -----------------------------------------------------------------------------

type MClientCommand struct {
	Command string   `json:"command"`
	Visible *bool    `json:"visible,omitempty"`
	Symbols []string `json:"symbols,omitempty"`
}
