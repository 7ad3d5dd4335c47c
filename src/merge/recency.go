// Package merge implements merge-by-recency for keyed records.
//
// Incoming records replace stored ones with the same key when their
// timestamp is greater than or equal to the stored timestamp, so on equal
// timestamps the later-applied record wins. Within one batch, later
// elements are applied after earlier ones.
package merge

import (
	"sort"

	"dashboard-sync/src/normalizer"
)

// KeyFunc returns the identity key of a record.
type KeyFunc[T any] func(T) string

// TsFunc returns the resolved timestamp of a record in milliseconds.
type TsFunc[T any] func(T) int64

// -----------------------------------------------------------------------------

// MergeMap returns a new map holding current merged with incoming.
// Records with an empty key are ignored. current is never modified.
func MergeMap[T any](current map[string]T, incoming []T, keyOf KeyFunc[T], tsOf TsFunc[T]) map[string]T {
	out := make(map[string]T, len(current)+len(incoming))
	for k, v := range current {
		out[k] = v
	}

	for _, rec := range incoming {
		key := keyOf(rec)
		if key == "" {
			continue
		}
		if stored, ok := out[key]; ok && tsOf(rec) < tsOf(stored) {
			continue
		}
		out[key] = rec
	}
	return out
}

// -----------------------------------------------------------------------------

// Merge is the slice form of MergeMap. The result keeps first-seen key
// order: keys of current first, then new keys in incoming order.
func Merge[T any](current, incoming []T, keyOf KeyFunc[T], tsOf TsFunc[T]) []T {
	index := make(map[string]int, len(current)+len(incoming))
	out := make([]T, 0, len(current)+len(incoming))

	apply := func(rec T) {
		key := keyOf(rec)
		if key == "" {
			return
		}
		i, ok := index[key]
		if !ok {
			index[key] = len(out)
			out = append(out, rec)
			return
		}
		if tsOf(rec) >= tsOf(out[i]) {
			out[i] = rec
		}
	}

	// duplicate keys already in current resolve by recency too
	for _, rec := range current {
		apply(rec)
	}
	for _, rec := range incoming {
		apply(rec)
	}
	return out
}

// -----------------------------------------------------------------------------

// Changed reports whether merging incoming into current would alter any
// stored record. A record counts as a change when its key is new or when
// it would replace a stored record (equal timestamps included).
func Changed[T any](current map[string]T, incoming []T, keyOf KeyFunc[T], tsOf TsFunc[T], equal func(a, b T) bool) bool {
	for _, rec := range incoming {
		key := keyOf(rec)
		if key == "" {
			continue
		}
		stored, ok := current[key]
		if !ok {
			return true
		}
		if tsOf(rec) >= tsOf(stored) && !equal(rec, stored) {
			return true
		}
	}
	return false
}

// -----------------------------------------------------------------------------

// GroupBySymbol partitions items by normalized symbol, preserving input
// order inside each partition. Items whose symbol normalizes to "" are
// dropped.
func GroupBySymbol[T any](items []T, symbolOf func(T) string) map[string][]T {
	groups := make(map[string][]T)
	for _, item := range items {
		sym := normalizer.NormalizeSymbol(symbolOf(item))
		if sym == "" {
			continue
		}
		groups[sym] = append(groups[sym], item)
	}
	return groups
}

// -----------------------------------------------------------------------------

// SortByRecency sorts items in place: newest first, ties broken by key
// ascending so the order never depends on input order.
func SortByRecency[T any](items []T, keyOf KeyFunc[T], tsOf TsFunc[T]) {
	sort.SliceStable(items, func(i, j int) bool {
		ti, tj := tsOf(items[i]), tsOf(items[j])
		if ti != tj {
			return ti > tj
		}
		return keyOf(items[i]) < keyOf(items[j])
	})
}

// -----------------------------------------------------------------------------

// Cap returns at most the first n items.
func Cap[T any](items []T, n int) []T {
	if n < 0 {
		n = 0
	}
	if len(items) <= n {
		return items
	}
	return items[:n]
}
