// Package normalizer turns loosely shaped backend payloads into canonical
// records: symbols trimmed and upper-cased, numbers coerced to finite
// float64 values. Nothing in here returns an error for malformed input;
// bad fields degrade to zero or absent.
package normalizer

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SymbolField is the record key carrying the instrument symbol.
const SymbolField = "symbol"

// -----------------------------------------------------------------------------

// NormalizeSymbol canonicalizes a symbol for use as a map key.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// -----------------------------------------------------------------------------

// NormalizeSymbols normalizes and de-duplicates, keeping first-seen order and
// dropping entries that end up empty.
func NormalizeSymbols(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		sym := NormalizeSymbol(s)
		if sym == "" {
			continue
		}
		if _, ok := seen[sym]; ok {
			continue
		}
		seen[sym] = struct{}{}
		out = append(out, sym)
	}
	return out
}

// -----------------------------------------------------------------------------

// ToFiniteFloat coerces v to a finite float64, returning 0 for anything that
// is missing, non-numeric, NaN or infinite.
func ToFiniteFloat(v interface{}) float64 {
	f, ok := toFloat(v)
	if !ok {
		return 0
	}
	return f
}

// -----------------------------------------------------------------------------

// ToOptionalFloat is ToFiniteFloat for nullable fields: nil when v is absent
// or cannot be read as a finite number.
func ToOptionalFloat(v interface{}) *float64 {
	f, ok := toFloat(v)
	if !ok {
		return nil
	}
	return &f
}

// -----------------------------------------------------------------------------

func toFloat(v interface{}) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case nil:
		return 0, false
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int8:
		f = float64(n)
	case int16:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint8:
		f = float64(n)
	case uint16:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case json.Number:
		return parseNumeric(string(n))
	case string:
		return parseNumeric(n)
	case *float64:
		if n == nil {
			return 0, false
		}
		f = *n
	default:
		return 0, false
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// -----------------------------------------------------------------------------

// parseNumeric reads decimal strings such as "42.10", " 1e3 " or "-0.5".
func parseNumeric(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, false
	}
	f, _ := d.Float64()
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// -----------------------------------------------------------------------------

// ToBool reads boolean-ish values; anything unrecognized is (false, false).
func ToBool(v interface{}) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "1", "yes":
			return true, true
		case "false", "0", "no":
			return false, true
		}
		return false, false
	case nil:
		return false, false
	}
	if f, ok := toFloat(v); ok {
		return f != 0, true
	}
	return false, false
}

// -----------------------------------------------------------------------------

// ToID renders an opaque identifier (string or number) as a string.
// Returns "" when v cannot serve as an identity.
func ToID(v interface{}) string {
	switch id := v.(type) {
	case string:
		return strings.TrimSpace(id)
	case json.Number:
		return strings.TrimSpace(string(id))
	case nil, bool:
		return ""
	}
	f, ok := toFloat(v)
	if !ok {
		return ""
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// -----------------------------------------------------------------------------

// ToString returns string values trimmed, "" for anything else.
func ToString(v interface{}) string {
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

// -----------------------------------------------------------------------------

// NormalizeRecord returns a copy of raw with the symbol canonicalized and the
// listed numeric fields coerced. Other fields pass through unchanged.
func NormalizeRecord(raw map[string]interface{}, numericFields ...string) map[string]interface{} {
	out := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		out[k] = v
	}

	if v, ok := raw[SymbolField]; ok {
		out[SymbolField] = NormalizeSymbol(ToString(v))
	}
	for _, field := range numericFields {
		out[field] = ToFiniteFloat(raw[field])
	}
	return out
}

// -----------------------------------------------------------------------------

// NormalizeKeyed normalizes a symbol-keyed numeric map. When two raw keys
// collapse onto the same symbol, the lexicographically last raw key wins so
// the result does not depend on map iteration order.
func NormalizeKeyed(raw interface{}) map[string]float64 {
	return normalizeKeyed(raw, ToFiniteFloat)
}

func normalizeKeyed[V any](raw interface{}, conv func(interface{}) V) map[string]V {
	m, ok := raw.(map[string]interface{})
	out := make(map[string]V, len(m))
	if !ok {
		return out
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		sym := NormalizeSymbol(k)
		if sym == "" {
			continue
		}
		out[sym] = conv(m[k])
	}
	return out
}

// -----------------------------------------------------------------------------
// Timestamp resolution
// -----------------------------------------------------------------------------

var (
	// OrderTimestampFields in priority order.
	OrderTimestampFields = []string{"ts_ms", "submitted_at", "updated_at", "created_at"}

	// FillTimestampFields in priority order.
	FillTimestampFields = []string{"ts_ms", "executed_at", "updated_at", "created_at"}

	// SnapshotTimestampFields covers quotes and positions.
	SnapshotTimestampFields = []string{"ts_ms", "timestamp", "updated_at"}
)

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05Z07:00",
}

// -----------------------------------------------------------------------------

// ResolveTimestamp returns the first non-zero timestamp, in milliseconds,
// among fields (in order). Numeric values are taken as milliseconds, strings
// as ISO8601 (zone-less strings are UTC). Returns 0 when nothing resolves.
func ResolveTimestamp(raw map[string]interface{}, fields ...string) int64 {
	for _, field := range fields {
		if ts := timestampValue(raw[field]); ts != 0 {
			return ts
		}
	}
	return 0
}

func timestampValue(v interface{}) int64 {
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" {
			return 0
		}
		if t, ok := ParseISOTime(s); ok {
			return t.UnixMilli()
		}
		// numeric strings are milliseconds too
		f, ok := parseNumeric(s)
		if !ok {
			return 0
		}
		return millisFromFloat(f)
	}

	f, ok := toFloat(v)
	if !ok {
		return 0
	}
	return millisFromFloat(f)
}

// millisFromFloat returns 0 for values int64 cannot hold.
func millisFromFloat(f float64) int64 {
	if math.IsNaN(f) || f <= 0 || f >= math.MaxInt64 {
		return 0
	}
	return int64(f)
}

// -----------------------------------------------------------------------------

// ParseISOTime parses the ISO8601 variants the backend emits.
func ParseISOTime(s string) (time.Time, bool) {
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
