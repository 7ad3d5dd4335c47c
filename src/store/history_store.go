package store

import (
	"sort"
	"sync"

	"dashboard-sync/src/merge"
	"dashboard-sync/src/normalizer"
)

// -----------------------------------------------------------------------------
// HistoryStore keeps, per symbol, the most recent records of one entity kind.
// Each symbol's collection is sorted newest first and capped. Collections are
// replaced on write, never edited in place, so a slice handed to a reader
// stays valid and unchanged.
// -----------------------------------------------------------------------------

type HistoryStore[T any] struct {
	mu       sync.RWMutex
	capacity int
	keyOf    merge.KeyFunc[T]
	tsOf     merge.TsFunc[T]
	symbolOf func(T) string
	equal    func(a, b T) bool

	bySymbol map[string][]T
	index    map[string]map[string]T
	empty    []T
}

// -----------------------------------------------------------------------------

// NewHistoryStore creates a store capped at capacity records per symbol.
// equal decides whether a replacing record actually changes anything.
func NewHistoryStore[T any](capacity int, keyOf merge.KeyFunc[T], tsOf merge.TsFunc[T], symbolOf func(T) string, equal func(a, b T) bool) *HistoryStore[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &HistoryStore[T]{
		capacity: capacity,
		keyOf:    keyOf,
		tsOf:     tsOf,
		symbolOf: symbolOf,
		equal:    equal,
		bySymbol: make(map[string][]T),
		index:    make(map[string]map[string]T),
		empty:    make([]T, 0),
	}
}

// -----------------------------------------------------------------------------

// Apply merges a batch into the store and returns the symbols whose
// collection changed, sorted. Records without a symbol or key are dropped.
func (s *HistoryStore[T]) Apply(batch []T) []string {
	if len(batch) == 0 {
		return nil
	}
	groups := merge.GroupBySymbol(batch, s.symbolOf)

	s.mu.Lock()
	defer s.mu.Unlock()

	changed := make([]string, 0, len(groups))
	for sym, incoming := range groups {
		current := s.index[sym]
		if !merge.Changed(current, incoming, s.keyOf, s.tsOf, s.equal) {
			continue
		}

		merged := merge.MergeMap(current, incoming, s.keyOf, s.tsOf)
		list := make([]T, 0, len(merged))
		for _, rec := range merged {
			list = append(list, rec)
		}
		merge.SortByRecency(list, s.keyOf, s.tsOf)
		list = merge.Cap(list, s.capacity)
		if s.sameAs(s.bySymbol[sym], list) {
			// only records that fall outside the cap arrived
			continue
		}

		// rebuild the index from what survived the cap
		kept := make(map[string]T, len(list))
		for _, rec := range list {
			kept[s.keyOf(rec)] = rec
		}

		s.index[sym] = kept
		s.bySymbol[sym] = list[:len(list):len(list)]
		changed = append(changed, sym)
	}

	sort.Strings(changed)
	return changed
}

func (s *HistoryStore[T]) sameAs(prev, next []T) bool {
	if len(prev) != len(next) {
		return false
	}
	for i := range prev {
		if s.keyOf(prev[i]) != s.keyOf(next[i]) || !s.equal(prev[i], next[i]) {
			return false
		}
	}
	return true
}

// -----------------------------------------------------------------------------

// CollectionOf returns the newest-first records for symbol. The returned
// slice has no spare capacity; callers must treat it as read-only. Unknown
// symbols get the store's shared empty collection.
func (s *HistoryStore[T]) CollectionOf(symbol string) []T {
	sym := normalizer.NormalizeSymbol(symbol)

	s.mu.RLock()
	defer s.mu.RUnlock()

	if list, ok := s.bySymbol[sym]; ok {
		return list
	}
	return s.empty
}

// -----------------------------------------------------------------------------

func (s *HistoryStore[T]) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.bySymbol))
	for sym := range s.bySymbol {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

func (s *HistoryStore[T]) Len(symbol string) int {
	return len(s.CollectionOf(symbol))
}

func (s *HistoryStore[T]) Capacity() int {
	return s.capacity
}

// -----------------------------------------------------------------------------

// Remove drops a symbol's history. Returns false when nothing was stored.
func (s *HistoryStore[T]) Remove(symbol string) bool {
	sym := normalizer.NormalizeSymbol(symbol)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.bySymbol[sym]; !ok {
		return false
	}
	delete(s.bySymbol, sym)
	delete(s.index, sym)
	return true
}
