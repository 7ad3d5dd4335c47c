package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rec struct {
	ID     string
	Symbol string
	Ts     int64
	Note   string
}

func keyOf(r rec) string { return r.ID }
func tsOf(r rec) int64   { return r.Ts }

func mergeMap(current map[string]rec, incoming ...rec) map[string]rec {
	return MergeMap(current, incoming, keyOf, tsOf)
}

func TestMergeMap_NewerWins(t *testing.T) {
	s := mergeMap(nil, rec{ID: "1", Ts: 100}, rec{ID: "2", Ts: 200})
	s = mergeMap(s, rec{ID: "1", Ts: 150}, rec{ID: "2", Ts: 50})

	assert.Equal(t, int64(150), s["1"].Ts)
	assert.Equal(t, int64(200), s["2"].Ts, "older update must not overwrite")
}

func TestMergeMap_DoesNotMutateCurrent(t *testing.T) {
	current := map[string]rec{"1": {ID: "1", Ts: 1}}
	out := mergeMap(current, rec{ID: "1", Ts: 2}, rec{ID: "3", Ts: 3})

	assert.Len(t, current, 1)
	assert.Equal(t, int64(1), current["1"].Ts)
	assert.Len(t, out, 2)
}

func TestMergeMap_Idempotent(t *testing.T) {
	base := mergeMap(nil, rec{ID: "a", Ts: 10}, rec{ID: "b", Ts: 20})
	batch := []rec{{ID: "a", Ts: 15}, {ID: "c", Ts: 5}, {ID: "b", Ts: 1}}

	once := MergeMap(base, batch, keyOf, tsOf)
	twice := MergeMap(once, batch, keyOf, tsOf)
	assert.Equal(t, once, twice)
}

func TestMergeMap_BatchSplitEqualsUnion(t *testing.T) {
	base := mergeMap(nil, rec{ID: "1", Ts: 100}, rec{ID: "2", Ts: 100})
	a := []rec{{ID: "1", Ts: 150}, {ID: "3", Ts: 90}}
	b := []rec{{ID: "2", Ts: 120}, {ID: "4", Ts: 300}}

	split := MergeMap(MergeMap(base, a, keyOf, tsOf), b, keyOf, tsOf)
	union := MergeMap(base, append(append([]rec{}, a...), b...), keyOf, tsOf)
	swapped := MergeMap(MergeMap(base, b, keyOf, tsOf), a, keyOf, tsOf)

	assert.Equal(t, union, split)
	assert.Equal(t, union, swapped)
}

func TestMergeMap_EqualTimestampIncomingWins(t *testing.T) {
	s := mergeMap(nil, rec{ID: "1", Ts: 100, Note: "stored"})
	s = mergeMap(s, rec{ID: "1", Ts: 100, Note: "first"}, rec{ID: "1", Ts: 100, Note: "second"})

	assert.Equal(t, "second", s["1"].Note)
}

func TestMergeMap_SkipsEmptyKeys(t *testing.T) {
	s := mergeMap(nil, rec{ID: "", Ts: 1})
	assert.Empty(t, s)
}

func TestMerge_KeepsFirstSeenOrder(t *testing.T) {
	current := []rec{{ID: "b", Ts: 1}, {ID: "a", Ts: 1}}
	out := Merge(current, []rec{{ID: "c", Ts: 1}, {ID: "a", Ts: 5}}, keyOf, tsOf)

	require.Len(t, out, 3)
	assert.Equal(t, []string{"b", "a", "c"}, []string{out[0].ID, out[1].ID, out[2].ID})
	assert.Equal(t, int64(5), out[1].Ts)
}

func TestChanged(t *testing.T) {
	current := mergeMap(nil, rec{ID: "1", Ts: 100, Note: "x"})
	equal := func(a, b rec) bool { return a == b }

	assert.False(t, Changed(current, []rec{{ID: "1", Ts: 100, Note: "x"}}, keyOf, tsOf, equal))
	assert.False(t, Changed(current, []rec{{ID: "1", Ts: 50, Note: "y"}}, keyOf, tsOf, equal))
	assert.True(t, Changed(current, []rec{{ID: "1", Ts: 100, Note: "y"}}, keyOf, tsOf, equal))
	assert.True(t, Changed(current, []rec{{ID: "2", Ts: 1}}, keyOf, tsOf, equal))
}

func TestGroupBySymbol(t *testing.T) {
	items := []rec{
		{ID: "1", Symbol: "btcusdt"},
		{ID: "2", Symbol: "ETHUSDT"},
		{ID: "3", Symbol: " BTCUSDT "},
		{ID: "4", Symbol: ""},
	}
	groups := GroupBySymbol(items, func(r rec) string { return r.Symbol })

	require.Len(t, groups, 2)
	assert.Equal(t, []string{"1", "3"}, []string{groups["BTCUSDT"][0].ID, groups["BTCUSDT"][1].ID})
	assert.Len(t, groups["ETHUSDT"], 1)
}

func TestSortByRecency_TieBreakByKey(t *testing.T) {
	items := []rec{{ID: "b", Ts: 100}, {ID: "c", Ts: 200}, {ID: "a", Ts: 100}}
	SortByRecency(items, keyOf, tsOf)

	assert.Equal(t, []string{"c", "a", "b"}, []string{items[0].ID, items[1].ID, items[2].ID})
}

func TestCap(t *testing.T) {
	items := []rec{{ID: "1"}, {ID: "2"}, {ID: "3"}}
	assert.Len(t, Cap(items, 2), 2)
	assert.Len(t, Cap(items, 10), 3)
	assert.Empty(t, Cap(items, -1))
}
