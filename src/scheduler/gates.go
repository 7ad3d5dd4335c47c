package scheduler

import (
	"sort"
	"sync"
)

// Readiness is an upstream precondition for refreshing.
type Readiness interface {
	Ready() bool
}

// Notifier is implemented by preconditions that can announce changes.
type Notifier interface {
	Subscribe(fn func(bool)) (unsubscribe func())
}

// -----------------------------------------------------------------------------
// edgeFlag is a boolean whose listeners fire only when the value flips.
// -----------------------------------------------------------------------------

type edgeFlag struct {
	mu        sync.RWMutex
	value     bool
	listeners map[int]func(bool)
	nextID    int
}

func newEdgeFlag(initial bool) edgeFlag {
	return edgeFlag{value: initial, listeners: make(map[int]func(bool))}
}

// set stores v and, on an edge, calls listeners outside the lock.
func (f *edgeFlag) set(v bool) {
	f.mu.Lock()
	if f.value == v {
		f.mu.Unlock()
		return
	}
	f.value = v

	ids := make([]int, 0, len(f.listeners))
	for id := range f.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(bool), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, f.listeners[id])
	}
	f.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

func (f *edgeFlag) get() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.value
}

func (f *edgeFlag) subscribe(fn func(bool)) func() {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = fn
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.listeners, id)
			f.mu.Unlock()
		})
	}
}

func (f *edgeFlag) listenerCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.listeners)
}

// -----------------------------------------------------------------------------
// VisibilityState
// -----------------------------------------------------------------------------

// VisibilityState tracks whether any dashboard is currently looking at the
// data. It starts visible.
type VisibilityState struct {
	flag edgeFlag
}

func NewVisibilityState() *VisibilityState {
	return &VisibilityState{flag: newEdgeFlag(true)}
}

func (v *VisibilityState) Set(visible bool)                       { v.flag.set(visible) }
func (v *VisibilityState) IsVisible() bool                        { return v.flag.get() }
func (v *VisibilityState) Subscribe(fn func(bool)) (unsub func()) { return v.flag.subscribe(fn) }

// Listeners reports how many listeners are attached.
func (v *VisibilityState) Listeners() int { return v.flag.listenerCount() }

// -----------------------------------------------------------------------------
// ReadinessGate
// -----------------------------------------------------------------------------

// ReadinessGate is a settable precondition, e.g. "an active provider is
// configured". It starts not ready.
type ReadinessGate struct {
	flag edgeFlag
}

func NewReadinessGate(ready bool) *ReadinessGate {
	return &ReadinessGate{flag: newEdgeFlag(ready)}
}

func (g *ReadinessGate) Set(ready bool)                         { g.flag.set(ready) }
func (g *ReadinessGate) Ready() bool                            { return g.flag.get() }
func (g *ReadinessGate) Subscribe(fn func(bool)) (unsub func()) { return g.flag.subscribe(fn) }

// -----------------------------------------------------------------------------
// Composition
// -----------------------------------------------------------------------------

type allReady []Readiness

// AllReady is ready only when every non-nil member is. Subscribing to it
// subscribes to every member that is a Notifier; fn receives the combined
// value after any member flips.
func AllReady(members ...Readiness) Readiness {
	out := make(allReady, 0, len(members))
	for _, m := range members {
		if m != nil {
			out = append(out, m)
		}
	}
	return out
}

func (a allReady) Ready() bool {
	for _, m := range a {
		if !m.Ready() {
			return false
		}
	}
	return true
}

func (a allReady) Subscribe(fn func(bool)) func() {
	unsubs := make([]func(), 0, len(a))
	for _, m := range a {
		if n, ok := m.(Notifier); ok {
			unsubs = append(unsubs, n.Subscribe(func(bool) { fn(a.Ready()) }))
		}
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
