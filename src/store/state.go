package store

import (
	"reflect"
	"sort"
	"sync"
	"time"

	"dashboard-sync/src/logger"
	"dashboard-sync/src/merge"
	"dashboard-sync/src/models"
	"dashboard-sync/src/normalizer"
	"dashboard-sync/src/signature"
)

// EventRecorder counts published and suppressed state events.
type EventRecorder interface {
	Published(kind string)
	Suppressed(kind string)
}

// -----------------------------------------------------------------------------
// TradingState owns the synchronized per-symbol view. It is the only writer
// of its containers; readers go through the selectors.
// -----------------------------------------------------------------------------

type TradingState struct {
	orders  *HistoryStore[models.MOrder]
	fills   *HistoryStore[models.MFill]
	metrics *signature.Gate[models.MStrategyMetrics]

	mu        sync.RWMutex
	positions map[string]models.MPosition
	quotes    map[string]models.MQuote

	subMu       sync.RWMutex
	subscribers map[int]func(models.MStateEvent)
	nextSubID   int

	recorder EventRecorder
	now      func() time.Time
	Logger   *logger.Logger
}

// -----------------------------------------------------------------------------

func NewTradingState(historyCap int, log *logger.Logger) *TradingState {
	if log == nil {
		log = logger.NewLogger(nil, "TradingState")
	}
	return &TradingState{
		orders:      NewHistoryStore(historyCap, orderKey, orderTs, orderSymbol, ordersEqual),
		fills:       NewHistoryStore(historyCap, fillKey, fillTs, fillSymbol, fillsEqual),
		metrics:     signature.NewGate(signature.MetricsSignature),
		positions:   make(map[string]models.MPosition),
		quotes:      make(map[string]models.MQuote),
		subscribers: make(map[int]func(models.MStateEvent)),
		now:         time.Now,
		Logger:      log,
	}
}

// SetRecorder attaches publish counters. Must be called before use.
func (s *TradingState) SetRecorder(r EventRecorder) {
	s.recorder = r
}

// -----------------------------------------------------------------------------
// Subscriptions
// -----------------------------------------------------------------------------

// Subscribe registers fn for change events and returns its unsubscribe func.
// Listeners run synchronously on the writer's goroutine, after the write
// lock is released.
func (s *TradingState) Subscribe(fn func(models.MStateEvent)) func() {
	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subscribers, id)
			s.subMu.Unlock()
		})
	}
}

// -----------------------------------------------------------------------------

func (s *TradingState) publish(kind string, symbols []string) {
	if s.recorder != nil {
		s.recorder.Published(kind)
	}
	event := models.MStateEvent{Kind: kind, Symbols: symbols, Timestamp: s.now().UnixMilli()}
	s.Logger.Debug("Publishing %s change for %v", kind, symbols)

	s.subMu.RLock()
	listeners := make([]func(models.MStateEvent), 0, len(s.subscribers))
	ids := make([]int, 0, len(s.subscribers))
	for id := range s.subscribers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		listeners = append(listeners, s.subscribers[id])
	}
	s.subMu.RUnlock()

	for _, fn := range listeners {
		fn(event)
	}
}

func (s *TradingState) suppress(kind string) {
	if s.recorder != nil {
		s.recorder.Suppressed(kind)
	}
}

// -----------------------------------------------------------------------------
// Writers
// -----------------------------------------------------------------------------

// ApplyOrders merges an order batch; publishes the symbols that changed.
func (s *TradingState) ApplyOrders(batch []models.MOrder) []string {
	changed := s.orders.Apply(batch)
	s.announce(models.EventOrders, changed)
	return changed
}

// ApplyFills merges a fill batch; publishes the symbols that changed.
func (s *TradingState) ApplyFills(batch []models.MFill) []string {
	changed := s.fills.Apply(batch)
	s.announce(models.EventFills, changed)
	return changed
}

// -----------------------------------------------------------------------------

// ApplyPositions keeps one position per symbol, newest timestamp wins.
func (s *TradingState) ApplyPositions(batch []models.MPosition) []string {
	s.mu.Lock()
	merged := merge.MergeMap(s.positions, batch, positionKey, positionTs)
	changed := make([]string, 0)
	for sym, pos := range merged {
		if prev, ok := s.positions[sym]; !ok || !reflect.DeepEqual(prev, pos) {
			changed = append(changed, sym)
		}
	}
	if len(changed) > 0 {
		s.positions = merged
	}
	s.mu.Unlock()

	sort.Strings(changed)
	s.announce(models.EventPositions, changed)
	return changed
}

// -----------------------------------------------------------------------------

// ReplaceQuotes installs a full quote snapshot: symbols missing from the
// snapshot are dropped.
func (s *TradingState) ReplaceQuotes(quotes []models.MQuote) []string {
	next := make(map[string]models.MQuote, len(quotes))
	for _, q := range quotes {
		sym := normalizer.NormalizeSymbol(q.Symbol)
		if sym == "" {
			continue
		}
		q.Symbol = sym
		next[sym] = q
	}

	s.mu.Lock()
	changed := make([]string, 0)
	for sym, q := range next {
		if prev, ok := s.quotes[sym]; !ok || !reflect.DeepEqual(prev, q) {
			changed = append(changed, sym)
		}
	}
	for sym := range s.quotes {
		if _, ok := next[sym]; !ok {
			changed = append(changed, sym)
		}
	}
	if len(changed) > 0 {
		s.quotes = next
	}
	s.mu.Unlock()

	sort.Strings(changed)
	s.announce(models.EventQuotes, changed)
	return changed
}

// -----------------------------------------------------------------------------

// UpsertQuotes replaces the quotes of the given symbols only.
func (s *TradingState) UpsertQuotes(quotes []models.MQuote) []string {
	s.mu.Lock()
	var next map[string]models.MQuote
	changed := make([]string, 0)
	for _, q := range quotes {
		sym := normalizer.NormalizeSymbol(q.Symbol)
		if sym == "" {
			continue
		}
		q.Symbol = sym
		if prev, ok := s.quotes[sym]; ok && reflect.DeepEqual(prev, q) {
			continue
		}
		if next == nil {
			next = make(map[string]models.MQuote, len(s.quotes)+len(quotes))
			for k, v := range s.quotes {
				next[k] = v
			}
		}
		if !containsString(changed, sym) {
			changed = append(changed, sym)
		}
		next[sym] = q
	}
	if next != nil {
		s.quotes = next
	}
	s.mu.Unlock()

	sort.Strings(changed)
	s.announce(models.EventQuotes, changed)
	return changed
}

// -----------------------------------------------------------------------------

// ApplyMetrics offers a metrics snapshot to the signature gate and publishes
// only when its content differs from the current one.
func (s *TradingState) ApplyMetrics(m models.MStrategyMetrics) bool {
	if !s.metrics.Offer(m) {
		s.suppress(models.EventMetrics)
		return false
	}
	s.publish(models.EventMetrics, nil)
	return true
}

// -----------------------------------------------------------------------------

// RemoveSymbol drops everything held for symbol.
func (s *TradingState) RemoveSymbol(symbol string) {
	sym := normalizer.NormalizeSymbol(symbol)
	if sym == "" {
		return
	}
	s.orders.Remove(sym)
	s.fills.Remove(sym)

	s.mu.Lock()
	if _, ok := s.positions[sym]; ok {
		next := make(map[string]models.MPosition, len(s.positions))
		for k, v := range s.positions {
			if k != sym {
				next[k] = v
			}
		}
		s.positions = next
	}
	if _, ok := s.quotes[sym]; ok {
		next := make(map[string]models.MQuote, len(s.quotes))
		for k, v := range s.quotes {
			if k != sym {
				next[k] = v
			}
		}
		s.quotes = next
	}
	s.mu.Unlock()
}

func (s *TradingState) announce(kind string, changed []string) {
	if len(changed) == 0 {
		s.suppress(kind)
		return
	}
	s.publish(kind, changed)
}

// -----------------------------------------------------------------------------
// Selectors
// -----------------------------------------------------------------------------

func (s *TradingState) Orders(symbol string) []models.MOrder {
	return s.orders.CollectionOf(symbol)
}

func (s *TradingState) Fills(symbol string) []models.MFill {
	return s.fills.CollectionOf(symbol)
}

func (s *TradingState) Position(symbol string) (models.MPosition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[normalizer.NormalizeSymbol(symbol)]
	return p, ok
}

func (s *TradingState) Quote(symbol string) (models.MQuote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quotes[normalizer.NormalizeSymbol(symbol)]
	return q, ok
}

// Quotes returns a copy of the current quote map.
func (s *TradingState) Quotes() map[string]models.MQuote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]models.MQuote, len(s.quotes))
	for k, v := range s.quotes {
		out[k] = v
	}
	return out
}

// -----------------------------------------------------------------------------

// Metrics returns a deep copy of the accepted snapshot, empty maps when none.
func (s *TradingState) Metrics() models.MStrategyMetrics {
	m, ok := s.metrics.Current()
	out := models.NewStrategyMetrics()
	if !ok {
		return out
	}
	for k, v := range m.Entries {
		out.Entries[k] = v
	}
	for k, v := range m.Exits {
		out.Exits[k] = v
	}
	for k, v := range m.OpenPositions {
		out.OpenPositions[k] = v
	}
	for k, v := range m.RealizedPnl {
		out.RealizedPnl[k] = v
	}
	return out
}

func (s *TradingState) EntriesFor(symbol string) float64 {
	m, _ := s.metrics.Current()
	return m.Entries[normalizer.NormalizeSymbol(symbol)]
}

func (s *TradingState) ExitsFor(symbol string) models.MExitCounts {
	m, _ := s.metrics.Current()
	return m.Exits[normalizer.NormalizeSymbol(symbol)]
}

func (s *TradingState) IsOpen(symbol string) bool {
	m, _ := s.metrics.Current()
	return m.OpenPositions[normalizer.NormalizeSymbol(symbol)]
}

func (s *TradingState) RealizedPnlFor(symbol string) float64 {
	m, _ := s.metrics.Current()
	return m.RealizedPnl[normalizer.NormalizeSymbol(symbol)]
}

// -----------------------------------------------------------------------------
// Record accessors
// -----------------------------------------------------------------------------

func orderKey(o models.MOrder) string    { return o.ID }
func orderTs(o models.MOrder) int64      { return o.Timestamp }
func orderSymbol(o models.MOrder) string { return o.Symbol }

func fillKey(f models.MFill) string    { return f.ID }
func fillTs(f models.MFill) int64      { return f.Timestamp }
func fillSymbol(f models.MFill) string { return f.Symbol }

func positionKey(p models.MPosition) string { return normalizer.NormalizeSymbol(p.Symbol) }
func positionTs(p models.MPosition) int64   { return p.Timestamp }

func ordersEqual(a, b models.MOrder) bool { return reflect.DeepEqual(a, b) }
func fillsEqual(a, b models.MFill) bool   { return reflect.DeepEqual(a, b) }

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
