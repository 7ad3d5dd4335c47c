package datasource

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"dashboard-sync/src/interfaces"
	"dashboard-sync/src/logger"
	"dashboard-sync/src/store"
)

// Snapshot kinds fetched on every refresh.
const (
	KindOrders    = "orders"
	KindFills     = "fills"
	KindPositions = "positions"
	KindQuotes    = "quotes"
	KindMetrics   = "metrics"
)

// FetchError names the snapshot kind that failed during a refresh.
type FetchError struct {
	Kind  string
	Cause error
}

func (e *FetchError) Error() string { return fmt.Sprintf("fetch %s: %v", e.Kind, e.Cause) }
func (e *FetchError) Unwrap() error { return e.Cause }

// -----------------------------------------------------------------------------
// Refresher pulls every snapshot from the backend in parallel and folds the
// results into the trading state. One failing endpoint does not prevent the
// others from being applied.
// -----------------------------------------------------------------------------

type Refresher struct {
	Source interfaces.IBackendSource
	State  *store.TradingState
	Logger *logger.Logger

	mu      sync.RWMutex
	dropped map[string]int
}

// -----------------------------------------------------------------------------

func NewRefresher(source interfaces.IBackendSource, state *store.TradingState, log *logger.Logger) *Refresher {
	if log == nil {
		log = logger.NewLogger(nil, "Refresher")
	}
	return &Refresher{
		Source:  source,
		State:   state,
		Logger:  log,
		dropped: make(map[string]int),
	}
}

// -----------------------------------------------------------------------------

// Refresh fans out to all endpoints and returns the joined fetch errors.
func (r *Refresher) Refresh(ctx context.Context) error {
	start := time.Now()

	jobs := map[string]func(context.Context) (int, error){
		KindOrders:    r.refreshOrders,
		KindFills:     r.refreshFills,
		KindPositions: r.refreshPositions,
		KindQuotes:    r.refreshQuotes,
		KindMetrics:   r.refreshMetrics,
	}

	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)

	for kind, job := range jobs {
		wg.Add(1)
		go func(kind string, job func(context.Context) (int, error)) {
			defer wg.Done()
			dropped, err := job(ctx)
			if err != nil {
				r.Logger.Error("Refresh of %s from %s failed: %v", kind, r.Source.Name(), err)
				mu.Lock()
				errs = append(errs, &FetchError{Kind: kind, Cause: err})
				mu.Unlock()
				return
			}
			r.recordDropped(kind, dropped)
		}(kind, job)
	}
	wg.Wait()

	r.Logger.Debug("Refresh finished in %v with %d failed endpoint(s)", time.Since(start), len(errs))
	return errors.Join(errs...)
}

// -----------------------------------------------------------------------------

func (r *Refresher) refreshOrders(ctx context.Context) (int, error) {
	orders, dropped, err := r.Source.FetchOrders(ctx)
	if err != nil {
		return 0, err
	}
	r.State.ApplyOrders(orders)
	return dropped, nil
}

func (r *Refresher) refreshFills(ctx context.Context) (int, error) {
	fills, dropped, err := r.Source.FetchFills(ctx)
	if err != nil {
		return 0, err
	}
	r.State.ApplyFills(fills)
	return dropped, nil
}

func (r *Refresher) refreshPositions(ctx context.Context) (int, error) {
	positions, dropped, err := r.Source.FetchPositions(ctx)
	if err != nil {
		return 0, err
	}
	r.State.ApplyPositions(positions)
	return dropped, nil
}

// refreshQuotes treats the REST quotes endpoint as a full snapshot.
func (r *Refresher) refreshQuotes(ctx context.Context) (int, error) {
	quotes, dropped, err := r.Source.FetchQuotes(ctx)
	if err != nil {
		return 0, err
	}
	r.State.ReplaceQuotes(quotes)
	return dropped, nil
}

func (r *Refresher) refreshMetrics(ctx context.Context) (int, error) {
	m, err := r.Source.FetchMetrics(ctx)
	if err != nil {
		return 0, err
	}
	r.State.ApplyMetrics(m)
	return 0, nil
}

// -----------------------------------------------------------------------------

func (r *Refresher) recordDropped(kind string, n int) {
	if n > 0 {
		r.Logger.Warning("Dropped %d malformed %s record(s)", n, kind)
	}
	r.mu.Lock()
	r.dropped[kind] += n
	r.mu.Unlock()
}

// Dropped returns the running count of discarded records per kind.
func (r *Refresher) Dropped() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int, len(r.dropped))
	for k, v := range r.dropped {
		out[k] = v
	}
	return out
}
