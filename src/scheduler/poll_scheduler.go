// Package scheduler drives periodic backend refreshes: it pauses while no
// dashboard is visible, waits for upstream readiness, and collapses
// concurrent refresh requests into one in-flight call.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"dashboard-sync/src/logger"

	"golang.org/x/sync/singleflight"
)

// MinPollInterval is the floor applied to any configured interval.
const MinPollInterval = 10 * time.Second

const refreshKey = "refresh"

// Skip reasons reported to the Recorder.
const (
	SkipHidden   = "hidden"
	SkipNotReady = "not_ready"
)

// Refresh results reported to the Recorder.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// ErrStopped is returned by Refresh once the scheduler has been stopped.
var ErrStopped = errors.New("scheduler stopped")

// RefreshFunc performs one refresh against the backend.
type RefreshFunc func(ctx context.Context) error

// Recorder receives scheduler counters.
type Recorder interface {
	RefreshResult(result string)
	RefreshCoalesced()
	RefreshSkipped(reason string)
}

// -----------------------------------------------------------------------------
// Ticker
// -----------------------------------------------------------------------------

// Ticker abstracts time.Ticker so tests can drive ticks by hand.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (tt timeTicker) C() <-chan time.Time { return tt.t.C }
func (tt timeTicker) Stop()               { tt.t.Stop() }

func newTimeTicker(d time.Duration) Ticker { return timeTicker{time.NewTicker(d)} }

// -----------------------------------------------------------------------------

// EffectiveInterval clamps d to MinPollInterval.
func EffectiveInterval(d time.Duration) time.Duration {
	if d < MinPollInterval {
		return MinPollInterval
	}
	return d
}

// -----------------------------------------------------------------------------
// Config / Status
// -----------------------------------------------------------------------------

type Config struct {
	Interval        time.Duration
	PauseWhenHidden bool
	RunOnStart      bool

	// Visibility defaults to a fresh, visible state.
	Visibility *VisibilityState
	// Readiness nil means always ready.
	Readiness Readiness
	// NewTicker defaults to time.NewTicker.
	NewTicker func(time.Duration) Ticker
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	Running       bool      `json:"running"`
	Refreshing    bool      `json:"refreshing"`
	Interval      string    `json:"interval"`
	LastError     string    `json:"last_error,omitempty"`
	LastAttempt   time.Time `json:"last_attempt,omitempty"`
	LastSuccess   time.Time `json:"last_success,omitempty"`
	Failures      int       `json:"failures"`
	TotalFailures int       `json:"total_failures"`
	Refreshes     int       `json:"refreshes"`
	Skipped       int       `json:"skipped"`
}

// -----------------------------------------------------------------------------
// PollScheduler
// -----------------------------------------------------------------------------

type PollScheduler struct {
	cfg     Config
	refresh RefreshFunc
	group   singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	status   Status
	started  bool
	stopped  bool
	unsubs   []func()
	onResult []func(error)

	recorder Recorder
	Logger   *logger.Logger
}

// -----------------------------------------------------------------------------

func NewPollScheduler(cfg Config, refresh RefreshFunc, l *logger.Logger) *PollScheduler {
	if cfg.Visibility == nil {
		cfg.Visibility = NewVisibilityState()
	}
	if cfg.NewTicker == nil {
		cfg.NewTicker = newTimeTicker
	}
	cfg.Interval = EffectiveInterval(cfg.Interval)
	if l == nil {
		l = logger.NewLogger(nil, "PollScheduler")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &PollScheduler{
		cfg:     cfg,
		refresh: refresh,
		ctx:     ctx,
		cancel:  cancel,
		status:  Status{Interval: cfg.Interval.String()},
		Logger:  l,
	}
}

// SetRecorder attaches counters. Call before Start.
func (p *PollScheduler) SetRecorder(r Recorder) {
	p.recorder = r
}

// OnResult registers fn to be called after every executed refresh with its
// error (nil on success). Skipped refreshes are not reported.
func (p *PollScheduler) OnResult(fn func(error)) {
	p.mu.Lock()
	p.onResult = append(p.onResult, fn)
	p.mu.Unlock()
}

func (p *PollScheduler) Visibility() *VisibilityState {
	return p.cfg.Visibility
}

// -----------------------------------------------------------------------------

// Start launches the tick loop and attaches the visibility and readiness
// listeners. Cancelling ctx has the same effect as Stop, minus the wait.
func (p *PollScheduler) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.status.Running = true

	if p.cfg.PauseWhenHidden {
		p.unsubs = append(p.unsubs, p.cfg.Visibility.Subscribe(p.onVisibility))
	}
	if n, ok := p.cfg.Readiness.(Notifier); ok {
		p.unsubs = append(p.unsubs, n.Subscribe(p.onReadiness))
	}
	ticker := p.cfg.NewTicker(p.cfg.Interval)
	p.wg.Add(1)
	p.mu.Unlock()

	go p.loop(ctx, ticker)

	p.Logger.Info("Poll scheduler started (interval %v, pause when hidden: %t)", p.cfg.Interval, p.cfg.PauseWhenHidden)
	if p.cfg.RunOnStart {
		p.trigger("start")
	}
}

// -----------------------------------------------------------------------------

func (p *PollScheduler) loop(ctx context.Context, ticker Ticker) {
	defer p.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.teardown()
			return
		case <-p.ctx.Done():
			return
		case <-ticker.C():
			if p.cfg.PauseWhenHidden && !p.cfg.Visibility.IsVisible() {
				p.skip(SkipHidden)
				continue
			}
			p.trigger("tick")
		}
	}
}

// -----------------------------------------------------------------------------

func (p *PollScheduler) onVisibility(visible bool) {
	if visible {
		p.Logger.Debug("Dashboard visible again, catching up")
		p.trigger("visible")
	}
}

func (p *PollScheduler) onReadiness(ready bool) {
	if !ready {
		return
	}
	if p.cfg.PauseWhenHidden && !p.cfg.Visibility.IsVisible() {
		// the visibility edge catches up later
		p.Logger.Debug("Refresh precondition satisfied while hidden, waiting")
		return
	}
	p.Logger.Info("Refresh precondition satisfied, resuming")
	p.trigger("ready")
}

// -----------------------------------------------------------------------------

// trigger runs a refresh in the background; errors are recorded in the
// status and otherwise dropped.
func (p *PollScheduler) trigger(reason string) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		if err := p.Refresh(p.ctx); err != nil && !errors.Is(err, ErrStopped) && !errors.Is(err, context.Canceled) {
			p.Logger.Warning("Refresh (%s) failed: %v", reason, err)
		}
	}()
}

// -----------------------------------------------------------------------------

// Refresh runs a refresh, or joins the one already in flight, and returns
// its result. The refresh itself runs on the scheduler's context, so ctx
// only bounds how long this caller waits.
func (p *PollScheduler) Refresh(ctx context.Context) error {
	if p.ctx.Err() != nil {
		return ErrStopped
	}

	leader := false
	ch := p.group.DoChan(refreshKey, func() (interface{}, error) {
		leader = true
		if !p.enter() {
			return nil, ErrStopped
		}
		defer p.wg.Done()
		return nil, p.run()
	})

	select {
	case res := <-ch:
		if !leader && p.recorder != nil {
			p.recorder.RefreshCoalesced()
		}
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// -----------------------------------------------------------------------------

// enter counts an executing refresh so Stop waits for it. It fails once the
// scheduler is stopped.
func (p *PollScheduler) enter() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return false
	}
	p.wg.Add(1)
	return true
}

func (p *PollScheduler) run() error {
	if p.ctx.Err() != nil {
		return ErrStopped
	}
	if p.cfg.Readiness != nil && !p.cfg.Readiness.Ready() {
		p.skip(SkipNotReady)
		return nil
	}

	p.mu.Lock()
	p.status.Refreshing = true
	p.status.LastAttempt = time.Now()
	p.mu.Unlock()

	err := p.refresh(p.ctx)

	p.mu.Lock()
	p.status.Refreshing = false
	p.status.Refreshes++
	if err != nil {
		p.status.LastError = err.Error()
		p.status.Failures++
		p.status.TotalFailures++
	} else {
		p.status.LastError = ""
		p.status.Failures = 0
		p.status.LastSuccess = time.Now()
	}
	hooks := append([]func(error){}, p.onResult...)
	p.mu.Unlock()

	if p.recorder != nil {
		if err != nil {
			p.recorder.RefreshResult(ResultFailure)
		} else {
			p.recorder.RefreshResult(ResultSuccess)
		}
	}
	for _, fn := range hooks {
		fn(err)
	}
	return err
}

func (p *PollScheduler) skip(reason string) {
	p.mu.Lock()
	p.status.Skipped++
	p.mu.Unlock()
	if p.recorder != nil {
		p.recorder.RefreshSkipped(reason)
	}
	p.Logger.Debug("Refresh skipped: %s", reason)
}

// -----------------------------------------------------------------------------

// Status returns a copy of the current status.
func (p *PollScheduler) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// -----------------------------------------------------------------------------

// Stop detaches listeners, stops the ticker, and waits for the loop and any
// executing refresh to return, including one whose callers already gave up.
// No refresh starts after Stop returns.
func (p *PollScheduler) Stop() {
	p.teardown()
	p.wg.Wait()
}

func (p *PollScheduler) teardown() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.status.Running = false
	unsubs := p.unsubs
	p.unsubs = nil
	p.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
	p.cancel()
	p.Logger.Info("Poll scheduler stopped")
}
