package models

// MExitCounts counts strategy exits by reason.
type MExitCounts struct {
	TP      float64 `json:"TP"`
	SL      float64 `json:"SL"`
	Timeout float64 `json:"TIMEOUT"`
}

// MStrategyMetrics is a wholesale-replaced snapshot; all maps keyed by symbol.
type MStrategyMetrics struct {
	Entries       map[string]float64     `json:"entries"`
	Exits         map[string]MExitCounts `json:"exits"`
	OpenPositions map[string]bool        `json:"open_positions"`
	RealizedPnl   map[string]float64     `json:"realized_pnl"`
}

// NewStrategyMetrics returns a snapshot with all maps allocated.
func NewStrategyMetrics() MStrategyMetrics {
	return MStrategyMetrics{
		Entries:       make(map[string]float64),
		Exits:         make(map[string]MExitCounts),
		OpenPositions: make(map[string]bool),
		RealizedPnl:   make(map[string]float64),
	}
}
