// Package registry tracks the watched symbols and their strategy running
// flags. Flags only change after the backend acknowledged a command.
package registry

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"dashboard-sync/src/helpers"
	"dashboard-sync/src/interfaces"
	"dashboard-sync/src/logger"
	"dashboard-sync/src/models"
	"dashboard-sync/src/normalizer"
)

// Command names, used in errors and metrics.
const (
	CmdStart    = "start"
	CmdStop     = "stop"
	CmdStartAll = "start_all"
	CmdStopAll  = "stop_all"
	CmdFlatten  = "flatten"
)

// Command results reported to the Recorder.
const (
	ResultOK    = "ok"
	ResultError = "error"
	ResultBusy  = "busy"
	ResultNoop  = "noop"
)

// Recorder counts command outcomes.
type Recorder interface {
	CommandResult(command, result string)
}

type entry struct {
	running bool
	order   int
}

// -----------------------------------------------------------------------------

type SymbolRegistry struct {
	client interfaces.ICommandClient

	mu      sync.RWMutex
	entries map[string]*entry
	seq     int

	busy atomic.Bool

	lmu       sync.RWMutex
	listeners map[int]func([]models.MWatchlistItem)
	nextID    int

	recorder Recorder
	Logger   *logger.Logger
}

// -----------------------------------------------------------------------------

func NewSymbolRegistry(client interfaces.ICommandClient, initial []string, l *logger.Logger) *SymbolRegistry {
	if l == nil {
		l = logger.NewLogger(nil, "SymbolRegistry")
	}
	r := &SymbolRegistry{
		client:    client,
		entries:   make(map[string]*entry),
		listeners: make(map[int]func([]models.MWatchlistItem)),
		Logger:    l,
	}
	for _, sym := range normalizer.NormalizeSymbols(initial) {
		r.entries[sym] = &entry{order: r.seq}
		r.seq++
	}
	return r
}

func (r *SymbolRegistry) SetRecorder(rec Recorder) {
	r.recorder = rec
}

// -----------------------------------------------------------------------------
// Watchlist
// -----------------------------------------------------------------------------

// Add creates a watchlist entry. Returns false when it already existed.
func (r *SymbolRegistry) Add(symbol string) (bool, error) {
	sym := normalizer.NormalizeSymbol(symbol)
	if sym == "" {
		return false, helpers.ErrEmptySymbol
	}

	r.mu.Lock()
	if _, ok := r.entries[sym]; ok {
		r.mu.Unlock()
		return false, nil
	}
	r.entries[sym] = &entry{order: r.seq}
	r.seq++
	r.mu.Unlock()

	r.Logger.Info("Added %s to watchlist", sym)
	r.notify()
	return true, nil
}

// Remove deletes a watchlist entry. Returns false when it did not exist.
func (r *SymbolRegistry) Remove(symbol string) bool {
	sym := normalizer.NormalizeSymbol(symbol)

	r.mu.Lock()
	if _, ok := r.entries[sym]; !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.entries, sym)
	r.mu.Unlock()

	r.Logger.Info("Removed %s from watchlist", sym)
	r.notify()
	return true
}

// -----------------------------------------------------------------------------

// Items returns the watchlist in insertion order.
func (r *SymbolRegistry) Items() []models.MWatchlistItem {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.itemsLocked()
}

func (r *SymbolRegistry) itemsLocked() []models.MWatchlistItem {
	items := make([]models.MWatchlistItem, 0, len(r.entries))
	for sym, e := range r.entries {
		items = append(items, models.MWatchlistItem{Symbol: sym, Running: e.running})
	}
	sort.Slice(items, func(i, j int) bool {
		return r.entries[items[i].Symbol].order < r.entries[items[j].Symbol].order
	})
	return items
}

func (r *SymbolRegistry) Symbols() []string {
	items := r.Items()
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Symbol
	}
	return out
}

func (r *SymbolRegistry) IsRunning(symbol string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[normalizer.NormalizeSymbol(symbol)]
	return ok && e.running
}

// Busy reports whether a bulk command is in flight.
func (r *SymbolRegistry) Busy() bool {
	return r.busy.Load()
}

// -----------------------------------------------------------------------------
// Listeners
// -----------------------------------------------------------------------------

// OnChange registers fn to receive the watchlist after every change.
func (r *SymbolRegistry) OnChange(fn func([]models.MWatchlistItem)) (unsubscribe func()) {
	r.lmu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = fn
	r.lmu.Unlock()

	return func() {
		r.lmu.Lock()
		delete(r.listeners, id)
		r.lmu.Unlock()
	}
}

func (r *SymbolRegistry) notify() {
	items := r.Items()

	r.lmu.RLock()
	fns := make([]func([]models.MWatchlistItem), 0, len(r.listeners))
	for _, fn := range r.listeners {
		fns = append(fns, fn)
	}
	r.lmu.RUnlock()

	for _, fn := range fns {
		fn(items)
	}
}

// -----------------------------------------------------------------------------
// Commands
// -----------------------------------------------------------------------------

// Start starts the strategy for symbols that are not already running.
// Several symbols at once count as a bulk command.
func (r *SymbolRegistry) Start(ctx context.Context, symbols ...string) error {
	return r.setRunning(ctx, CmdStart, true, symbols)
}

// Stop stops the strategy for symbols that are running.
func (r *SymbolRegistry) Stop(ctx context.Context, symbols ...string) error {
	return r.setRunning(ctx, CmdStop, false, symbols)
}

func (r *SymbolRegistry) setRunning(ctx context.Context, command string, running bool, symbols []string) error {
	syms := normalizer.NormalizeSymbols(symbols)
	if len(syms) == 0 {
		return helpers.ErrEmptySymbol
	}

	if len(syms) > 1 {
		if !r.acquire(command) {
			return helpers.ErrBusy
		}
		defer r.release()
	}
	return r.send(ctx, command, running, r.pending(syms, running))
}

// -----------------------------------------------------------------------------

// StartAll starts every watched symbol that is not running.
func (r *SymbolRegistry) StartAll(ctx context.Context) error {
	if !r.acquire(CmdStartAll) {
		return helpers.ErrBusy
	}
	defer r.release()

	return r.send(ctx, CmdStartAll, true, r.pending(r.Symbols(), true))
}

// -----------------------------------------------------------------------------

// StopAll asks the backend to stop everything and clears every running flag.
func (r *SymbolRegistry) StopAll(ctx context.Context) error {
	if !r.acquire(CmdStopAll) {
		return helpers.ErrBusy
	}
	defer r.release()

	if err := r.client.StopAll(ctx); err != nil {
		return r.fail(CmdStopAll, nil, err)
	}

	r.mu.Lock()
	for _, e := range r.entries {
		e.running = false
	}
	r.mu.Unlock()

	r.succeed(CmdStopAll, nil)
	return nil
}

// -----------------------------------------------------------------------------

// Flatten closes positions for symbols (all watched symbols when none are
// given). Running flags are left alone.
func (r *SymbolRegistry) Flatten(ctx context.Context, symbols ...string) error {
	if !r.acquire(CmdFlatten) {
		return helpers.ErrBusy
	}
	defer r.release()

	syms := normalizer.NormalizeSymbols(symbols)
	if len(syms) == 0 {
		syms = r.Symbols()
	}
	if err := r.client.Flatten(ctx, syms); err != nil {
		return r.fail(CmdFlatten, syms, err)
	}

	r.record(CmdFlatten, ResultOK)
	r.Logger.Info("Flatten acknowledged for %v", syms)
	return nil
}

// -----------------------------------------------------------------------------

// pending filters syms down to those not already in the target state.
func (r *SymbolRegistry) pending(syms []string, running bool) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(syms))
	for _, sym := range syms {
		e, ok := r.entries[sym]
		current := ok && e.running
		if current != running {
			out = append(out, sym)
		}
	}
	return out
}

// send issues a start/stop command and flips the requested symbols on success.
func (r *SymbolRegistry) send(ctx context.Context, command string, running bool, syms []string) error {
	if len(syms) == 0 {
		r.record(command, ResultNoop)
		return nil
	}

	var err error
	if running {
		err = r.client.StartStrategy(ctx, syms)
	} else {
		err = r.client.StopStrategy(ctx, syms)
	}
	if err != nil {
		return r.fail(command, syms, err)
	}

	r.mu.Lock()
	for _, sym := range syms {
		e, ok := r.entries[sym]
		if !ok {
			if !running {
				continue
			}
			e = &entry{order: r.seq}
			r.seq++
			r.entries[sym] = e
		}
		e.running = running
	}
	r.mu.Unlock()

	r.succeed(command, syms)
	return nil
}

// -----------------------------------------------------------------------------

func (r *SymbolRegistry) acquire(command string) bool {
	if r.busy.CompareAndSwap(false, true) {
		return true
	}
	r.Logger.Warning("Rejected %s: another bulk command is in progress", command)
	r.record(command, ResultBusy)
	return false
}

func (r *SymbolRegistry) release() {
	r.busy.Store(false)
}

func (r *SymbolRegistry) fail(command string, syms []string, err error) error {
	r.record(command, ResultError)
	r.Logger.Error("Command %s failed for %v: %v", command, syms, err)
	return helpers.NewCommandError(command, syms, err)
}

func (r *SymbolRegistry) succeed(command string, syms []string) {
	r.record(command, ResultOK)
	r.Logger.Info("Command %s acknowledged for %v", command, syms)
	r.notify()
}

func (r *SymbolRegistry) record(command, result string) {
	if r.recorder != nil {
		r.recorder.CommandResult(command, result)
	}
}
