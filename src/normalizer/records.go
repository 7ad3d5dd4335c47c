package normalizer

import (
	"strings"

	"dashboard-sync/src/models"
)

// -----------------------------------------------------------------------------
// Typed decoders. Each returns false when the record lacks the identity it
// needs to be stored (symbol, and id for orders/fills).
// -----------------------------------------------------------------------------

// ToOrder decodes a raw order record.
func ToOrder(raw map[string]interface{}) (models.MOrder, bool) {
	id := ToID(first(raw, "id", "order_id", "orderId"))
	symbol := NormalizeSymbol(ToString(raw[SymbolField]))
	if id == "" || symbol == "" {
		return models.MOrder{}, false
	}

	return models.MOrder{
		ID:        id,
		Symbol:    symbol,
		Side:      toSide(raw["side"]),
		Quantity:  ToFiniteFloat(first(raw, "quantity", "qty")),
		Price:     ToOptionalFloat(raw["price"]),
		Status:    models.OrderStatus(strings.ToUpper(ToString(raw["status"]))),
		Timestamp: ResolveTimestamp(raw, OrderTimestampFields...),
	}, true
}

// -----------------------------------------------------------------------------

// ToFill decodes a raw fill record.
func ToFill(raw map[string]interface{}) (models.MFill, bool) {
	id := ToID(first(raw, "id", "fill_id", "trade_id", "execution_id"))
	symbol := NormalizeSymbol(ToString(raw[SymbolField]))
	if id == "" || symbol == "" {
		return models.MFill{}, false
	}

	return models.MFill{
		ID:        id,
		Symbol:    symbol,
		Side:      toSide(raw["side"]),
		Quantity:  ToFiniteFloat(first(raw, "quantity", "qty")),
		Price:     ToFiniteFloat(raw["price"]),
		Fee:       ToOptionalFloat(raw["fee"]),
		IsMaker:   toMakerFlag(raw),
		Timestamp: ResolveTimestamp(raw, FillTimestampFields...),
	}, true
}

// -----------------------------------------------------------------------------

// ToPosition decodes a raw position record.
func ToPosition(raw map[string]interface{}) (models.MPosition, bool) {
	symbol := NormalizeSymbol(ToString(raw[SymbolField]))
	if symbol == "" {
		return models.MPosition{}, false
	}

	return models.MPosition{
		Symbol:        symbol,
		Quantity:      ToFiniteFloat(first(raw, "quantity", "qty")),
		AvgPrice:      ToFiniteFloat(first(raw, "avg_price", "avgPrice", "entry_price")),
		RealizedPnl:   ToFiniteFloat(first(raw, "realized_pnl", "realizedPnl")),
		UnrealizedPnl: ToFiniteFloat(first(raw, "unrealized_pnl", "unrealizedPnl")),
		Timestamp:     ResolveTimestamp(raw, SnapshotTimestampFields...),
	}, true
}

// -----------------------------------------------------------------------------

// ToQuote decodes a raw quote. Mid and spread are derived from bid/ask when
// the payload omits them and both sides are positive.
func ToQuote(raw map[string]interface{}) (models.MQuote, bool) {
	symbol := NormalizeSymbol(ToString(raw[SymbolField]))
	if symbol == "" {
		return models.MQuote{}, false
	}

	q := models.MQuote{
		Symbol:    symbol,
		Bid:       ToFiniteFloat(raw["bid"]),
		Ask:       ToFiniteFloat(raw["ask"]),
		Mid:       ToFiniteFloat(raw["mid"]),
		Spread:    ToFiniteFloat(raw["spread"]),
		Bids:      toLevels(raw["bids"]),
		Asks:      toLevels(raw["asks"]),
		Timestamp: ResolveTimestamp(raw, SnapshotTimestampFields...),
	}

	if q.Bid > 0 && q.Ask > 0 {
		if q.Mid == 0 {
			q.Mid = (q.Bid + q.Ask) / 2
		}
		if q.Spread == 0 {
			q.Spread = q.Ask - q.Bid
		}
	}
	return q, true
}

// -----------------------------------------------------------------------------

// ToMetrics decodes the four-map strategy metrics payload. Missing maps come
// back empty, never nil.
func ToMetrics(raw map[string]interface{}) models.MStrategyMetrics {
	m := models.MStrategyMetrics{
		Entries:       NormalizeKeyed(raw["entries"]),
		Exits:         normalizeKeyed(raw["exits"], toExitCounts),
		OpenPositions: normalizeKeyed(first(raw, "open_positions", "open"), toOpenFlag),
		RealizedPnl:   NormalizeKeyed(first(raw, "realized_pnl", "pnl")),
	}
	return m
}

// -----------------------------------------------------------------------------
// Batch helpers: drop records that cannot be stored and report how many.
// -----------------------------------------------------------------------------

func ToOrders(raws []map[string]interface{}) ([]models.MOrder, int) {
	return decodeAll(raws, ToOrder)
}

func ToFills(raws []map[string]interface{}) ([]models.MFill, int) {
	return decodeAll(raws, ToFill)
}

func ToPositions(raws []map[string]interface{}) ([]models.MPosition, int) {
	return decodeAll(raws, ToPosition)
}

func ToQuotes(raws []map[string]interface{}) ([]models.MQuote, int) {
	return decodeAll(raws, ToQuote)
}

func decodeAll[T any](raws []map[string]interface{}, decode func(map[string]interface{}) (T, bool)) ([]T, int) {
	out := make([]T, 0, len(raws))
	dropped := 0
	for _, raw := range raws {
		if raw == nil {
			dropped++
			continue
		}
		rec, ok := decode(raw)
		if !ok {
			dropped++
			continue
		}
		out = append(out, rec)
	}
	return out, dropped
}

// -----------------------------------------------------------------------------

// AsRecords converts a decoded JSON value into a list of records: arrays are
// taken element by element (non-objects dropped), objects keyed by symbol get
// the key injected as their symbol when they lack one.
func AsRecords(v interface{}) []map[string]interface{} {
	switch list := v.(type) {
	case []map[string]interface{}:
		return list
	case []interface{}:
		out := make([]map[string]interface{}, 0, len(list))
		for _, item := range list {
			if m, ok := item.(map[string]interface{}); ok {
				out = append(out, m)
			}
		}
		return out
	case map[string]interface{}:
		out := make([]map[string]interface{}, 0, len(list))
		for key, item := range list {
			m, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			if _, has := m[SymbolField]; !has {
				withSymbol := make(map[string]interface{}, len(m)+1)
				for k, val := range m {
					withSymbol[k] = val
				}
				withSymbol[SymbolField] = key
				m = withSymbol
			}
			out = append(out, m)
		}
		return out
	}
	return nil
}

// -----------------------------------------------------------------------------
// helpers
// -----------------------------------------------------------------------------

func first(raw map[string]interface{}, keys ...string) interface{} {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func toSide(v interface{}) models.Side {
	return models.Side(strings.ToUpper(ToString(v)))
}

func toMakerFlag(raw map[string]interface{}) *bool {
	if b, ok := ToBool(first(raw, "is_maker", "maker", "isMaker")); ok {
		return &b
	}
	switch strings.ToUpper(ToString(raw["liquidity"])) {
	case "MAKER":
		b := true
		return &b
	case "TAKER":
		b := false
		return &b
	}
	return nil
}

func toExitCounts(v interface{}) models.MExitCounts {
	m, ok := v.(map[string]interface{})
	if !ok {
		return models.MExitCounts{}
	}
	return models.MExitCounts{
		TP:      ToFiniteFloat(first(m, "TP", "tp")),
		SL:      ToFiniteFloat(first(m, "SL", "sl")),
		Timeout: ToFiniteFloat(first(m, "TIMEOUT", "timeout")),
	}
}

func toOpenFlag(v interface{}) bool {
	b, _ := ToBool(v)
	return b
}

func toLevels(v interface{}) []models.MLevel {
	list, ok := v.([]interface{})
	if !ok || len(list) == 0 {
		return nil
	}

	levels := make([]models.MLevel, 0, len(list))
	for _, item := range list {
		switch lvl := item.(type) {
		case []interface{}:
			if len(lvl) < 2 {
				continue
			}
			levels = append(levels, models.MLevel{Price: ToFiniteFloat(lvl[0]), Quantity: ToFiniteFloat(lvl[1])})
		case map[string]interface{}:
			levels = append(levels, models.MLevel{
				Price:    ToFiniteFloat(first(lvl, "price", "p")),
				Quantity: ToFiniteFloat(first(lvl, "quantity", "qty", "q", "size")),
			})
		}
	}
	return levels
}
