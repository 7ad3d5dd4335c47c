// Package signature builds deterministic content fingerprints for keyed
// numeric maps, used to suppress no-op snapshot publishes.
package signature

import (
	"sort"
	"strconv"
	"strings"
	"sync"

	"dashboard-sync/src/models"
)

const (
	tokenSeparator = "|"
	keySeparator   = ":"
)

// Section is one named keyed map contributing to a signature.
type Section struct {
	Prefix string
	Values map[string]float64
}

// -----------------------------------------------------------------------------

// Signature renders sections as `prefix:key=value` tokens joined by "|".
// Keys are sorted inside each section so map iteration order never leaks in.
func Signature(sections ...Section) string {
	var b strings.Builder
	firstToken := true

	for _, sec := range sections {
		keys := make([]string, 0, len(sec.Values))
		for k := range sec.Values {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			if !firstToken {
				b.WriteString(tokenSeparator)
			}
			firstToken = false

			b.WriteString(sec.Prefix)
			b.WriteString(keySeparator)
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(strconv.FormatFloat(sec.Values[k], 'g', -1, 64))
		}
	}
	return b.String()
}

// -----------------------------------------------------------------------------

// MetricsSignature fingerprints a strategy metrics snapshot.
func MetricsSignature(m models.MStrategyMetrics) string {
	tp := make(map[string]float64, len(m.Exits))
	sl := make(map[string]float64, len(m.Exits))
	timeout := make(map[string]float64, len(m.Exits))
	for sym, e := range m.Exits {
		tp[sym] = e.TP
		sl[sym] = e.SL
		timeout[sym] = e.Timeout
	}

	open := make(map[string]float64, len(m.OpenPositions))
	for sym, isOpen := range m.OpenPositions {
		if isOpen {
			open[sym] = 1
		} else {
			open[sym] = 0
		}
	}

	return Signature(
		Section{Prefix: "entries", Values: m.Entries},
		Section{Prefix: "exit.tp", Values: tp},
		Section{Prefix: "exit.sl", Values: sl},
		Section{Prefix: "exit.timeout", Values: timeout},
		Section{Prefix: "open", Values: open},
		Section{Prefix: "pnl", Values: m.RealizedPnl},
	)
}

// -----------------------------------------------------------------------------
// Gate
// -----------------------------------------------------------------------------

// Gate holds the last accepted value of a snapshot and its signature.
type Gate[T any] struct {
	mu        sync.RWMutex
	sign      func(T) string
	value     T
	signature string
	set       bool
}

func NewGate[T any](sign func(T) string) *Gate[T] {
	return &Gate[T]{sign: sign}
}

// Offer stores v and reports whether its signature differs from the stored
// one. The first offer always counts as a change.
func (g *Gate[T]) Offer(v T) bool {
	sig := g.sign(v)

	g.mu.Lock()
	defer g.mu.Unlock()

	changed := !g.set || sig != g.signature
	g.value = v
	g.signature = sig
	g.set = true
	return changed
}

func (g *Gate[T]) Current() (T, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.value, g.set
}

func (g *Gate[T]) Signature() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.signature
}
