package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"dashboard-sync/src/logger"
	"dashboard-sync/src/models"
	"dashboard-sync/src/observability"
	"dashboard-sync/src/registry"
	"dashboard-sync/src/scheduler"
	"dashboard-sync/src/store"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// -----------------------------------------------------------------------------

type fakeBackend struct {
	mu       sync.Mutex
	provider string
	cmdErr   error
	block    chan struct{}
	entered  chan struct{}
}

func (f *fakeBackend) Name() string { return "fake" }
func (f *fakeBackend) FetchOrders(context.Context) ([]models.MOrder, int, error) {
	return nil, 0, nil
}
func (f *fakeBackend) FetchFills(context.Context) ([]models.MFill, int, error) {
	return nil, 0, nil
}
func (f *fakeBackend) FetchPositions(context.Context) ([]models.MPosition, int, error) {
	return nil, 0, nil
}
func (f *fakeBackend) FetchQuotes(context.Context) ([]models.MQuote, int, error) {
	return nil, 0, nil
}
func (f *fakeBackend) FetchMetrics(context.Context) (models.MStrategyMetrics, error) {
	return models.NewStrategyMetrics(), nil
}

func (f *fakeBackend) SetProvider(p string) {
	f.mu.Lock()
	f.provider = strings.TrimSpace(p)
	f.mu.Unlock()
}

func (f *fakeBackend) Provider() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.provider
}

func (f *fakeBackend) do() error {
	f.mu.Lock()
	err, block, entered := f.cmdErr, f.block, f.entered
	f.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		<-block
	}
	return err
}

func (f *fakeBackend) StartStrategy(context.Context, []string) error { return f.do() }
func (f *fakeBackend) StopStrategy(context.Context, []string) error  { return f.do() }
func (f *fakeBackend) StopAll(context.Context) error                 { return f.do() }
func (f *fakeBackend) Flatten(context.Context, []string) error       { return f.do() }

// -----------------------------------------------------------------------------

type fixture struct {
	server     *DashboardServer
	state      *store.TradingState
	registry   *registry.SymbolRegistry
	scheduler  *scheduler.PollScheduler
	backend    *fakeBackend
	provider   *scheduler.ReadinessGate
	refreshes  atomic.Int32
	refreshErr atomic.Value
}

func newFixture(t *testing.T, watchlist ...string) *fixture {
	t.Helper()
	quiet := func(name string) *logger.Logger { return logger.NewLoggerWithWriter(io.Discard, nil, name) }

	f := &fixture{backend: &fakeBackend{}}
	f.state = store.NewTradingState(10, quiet("TradingState"))
	f.registry = registry.NewSymbolRegistry(f.backend, watchlist, quiet("SymbolRegistry"))
	f.provider = scheduler.NewReadinessGate(false)
	f.scheduler = scheduler.NewPollScheduler(scheduler.Config{
		Interval:        time.Hour,
		PauseWhenHidden: true,
		Readiness:       f.provider,
	}, func(context.Context) error {
		f.refreshes.Add(1)
		if err, ok := f.refreshErr.Load().(error); ok {
			return err
		}
		return nil
	}, quiet("PollScheduler"))

	cfg := &models.MConfig{Host: "127.0.0.1", Port: 0, LogLevel: "INFO"}
	f.server = NewDashboardServer(cfg, Deps{
		State:     f.state,
		Registry:  f.registry,
		Scheduler: f.scheduler,
		Source:    f.backend,
		Provider:  f.provider,
		Metrics:   observability.NewMetrics(""),
	}, quiet("DashboardServer"))
	f.server.startHub()

	t.Cleanup(func() {
		_ = f.server.Stop()
		f.scheduler.Stop()
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// -----------------------------------------------------------------------------
// REST
// -----------------------------------------------------------------------------

func TestServer_WatchlistLifecycle(t *testing.T) {
	f := newFixture(t, "BTC")

	rec := f.do(t, http.MethodPost, "/api/watchlist", gin.H{"symbol": " eth "})
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/watchlist", gin.H{"symbol": "ETH"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/watchlist", gin.H{"symbol": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/watchlist", nil)
	assert.Equal(t, []models.MWatchlistItem{{Symbol: "BTC"}, {Symbol: "ETH"}}, decode[[]models.MWatchlistItem](t, rec))

	f.state.ApplyOrders([]models.MOrder{{ID: "1", Symbol: "ETH", Timestamp: 1}})
	rec = f.do(t, http.MethodDelete, "/api/watchlist/eth", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, f.state.Orders("ETH"), "removing a symbol drops its state")

	rec = f.do(t, http.MethodDelete, "/api/watchlist/eth", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_StartStopSymbol(t *testing.T) {
	f := newFixture(t, "BTC")

	rec := f.do(t, http.MethodPost, "/api/watchlist/btc/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []models.MWatchlistItem{{Symbol: "BTC", Running: true}}, decode[[]models.MWatchlistItem](t, rec))

	rec = f.do(t, http.MethodPost, "/api/watchlist/BTC/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, f.registry.IsRunning("BTC"))
}

func TestServer_CommandFailureMapsToBadGateway(t *testing.T) {
	f := newFixture(t, "BTC", "ETH")
	f.backend.cmdErr = errors.New("backend said no")

	rec := f.do(t, http.MethodPost, "/api/strategy/start", gin.H{"symbols": []string{"btc", "eth"}})
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	body := decode[map[string]interface{}](t, rec)
	assert.Equal(t, registry.CmdStart, body["command"])
	assert.False(t, f.registry.IsRunning("BTC"))
}

func TestServer_BulkCommandWhileBusyIsConflict(t *testing.T) {
	f := newFixture(t, "BTC", "ETH")
	f.backend.block = make(chan struct{})
	f.backend.entered = make(chan struct{}, 1)

	done := make(chan int, 1)
	go func() { done <- f.do(t, http.MethodPost, "/api/strategy/start-all", nil).Code }()
	<-f.backend.entered

	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/api/strategy/stop-all", nil).Code)
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/api/strategy/flatten", nil).Code)

	close(f.backend.block)
	assert.Equal(t, http.StatusOK, <-done)
}

func TestServer_Selectors(t *testing.T) {
	f := newFixture(t)
	f.state.ApplyOrders([]models.MOrder{
		{ID: "1", Symbol: "BTC", Timestamp: 1},
		{ID: "2", Symbol: "BTC", Timestamp: 2},
	})
	f.state.UpsertQuotes([]models.MQuote{{Symbol: "BTC", Bid: 1, Ask: 2, Mid: 1.5}})

	orders := decode[[]models.MOrder](t, f.do(t, http.MethodGet, "/api/orders/btc", nil))
	require.Len(t, orders, 2)
	assert.Equal(t, "2", orders[0].ID, "newest first")

	assert.Equal(t, "[]", strings.TrimSpace(f.do(t, http.MethodGet, "/api/fills/btc", nil).Body.String()))

	quote := decode[models.MQuote](t, f.do(t, http.MethodGet, "/api/quotes/btc", nil))
	assert.Equal(t, 1.5, quote.Mid)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/quotes/eth", nil).Code)
	assert.Len(t, decode[map[string]models.MQuote](t, f.do(t, http.MethodGet, "/api/quotes", nil)), 1)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/positions/btc", nil).Code)

	metrics := decode[models.MStrategyMetrics](t, f.do(t, http.MethodGet, "/api/metrics", nil))
	assert.NotNil(t, metrics.Entries)
}

func TestServer_ProviderGatesRefresh(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/refresh", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, f.refreshes.Load(), "no provider, refresh skipped")

	rec = f.do(t, http.MethodPut, "/api/provider", gin.H{"provider": "binance"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.provider.Ready())

	rec = f.do(t, http.MethodPost, "/api/refresh", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int32(1), f.refreshes.Load())

	f.do(t, http.MethodPut, "/api/provider", gin.H{"provider": ""})
	assert.False(t, f.provider.Ready())
}

func TestServer_RefreshErrors(t *testing.T) {
	f := newFixture(t)
	f.provider.Set(true)
	f.refreshErr.Store(errors.New("fetch orders: 503"))

	assert.Equal(t, http.StatusBadGateway, f.do(t, http.MethodPost, "/api/refresh", nil).Code)

	f.scheduler.Stop()
	assert.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodPost, "/api/refresh", nil).Code)
}

func TestServer_StatusHealthAndMetrics(t *testing.T) {
	f := newFixture(t, "BTC")
	f.backend.SetProvider("binance")

	status := decode[map[string]interface{}](t, f.do(t, http.MethodGet, "/api/status", nil))
	assert.Equal(t, "binance", status["provider"])
	assert.Equal(t, false, status["busy"])
	assert.Contains(t, status, "scheduler")

	health := decode[map[string]interface{}](t, f.do(t, http.MethodGet, "/api/health", nil))
	assert.Equal(t, "ok", health["status"])

	rec := f.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "dashboard_sync_hub_clients")

	req := httptest.NewRequest(http.MethodOptions, "/api/watchlist", nil)
	req.Header.Set("Origin", "http://127.0.0.1:5173")
	cors := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(cors, req)
	assert.Equal(t, http.StatusNoContent, cors.Code)
	assert.Equal(t, "http://127.0.0.1:5173", cors.Header().Get("Access-Control-Allow-Origin"))
}

// -----------------------------------------------------------------------------
// WebSocket hub
// -----------------------------------------------------------------------------

func dial(t *testing.T, f *fixture) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(f.server.Handler())
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) models.MStateEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev models.MStateEvent
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func send(t *testing.T, conn *websocket.Conn, cmd models.MClientCommand) {
	t.Helper()
	data, err := json.Marshal(cmd)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func TestHub_InitialEventsAndVisibility(t *testing.T) {
	f := newFixture(t)
	visibility := f.scheduler.Visibility()

	assert.Eventually(t, func() bool { return !visibility.IsVisible() }, time.Second, 5*time.Millisecond,
		"no dashboards connected means hidden")

	conn := dial(t, f)
	for range initialEvents() {
		ev := readEvent(t, conn)
		assert.Empty(t, ev.Symbols)
	}
	assert.Eventually(t, visibility.IsVisible, time.Second, 5*time.Millisecond)

	hidden := false
	send(t, conn, models.MClientCommand{Command: CmdVisibility, Visible: &hidden})
	assert.Eventually(t, func() bool { return !visibility.IsVisible() }, time.Second, 5*time.Millisecond)

	visible := true
	send(t, conn, models.MClientCommand{Command: CmdVisibility, Visible: &visible})
	assert.Eventually(t, visibility.IsVisible, time.Second, 5*time.Millisecond)

	_ = conn.Close()
	assert.Eventually(t, func() bool { return !visibility.IsVisible() }, time.Second, 5*time.Millisecond)
}

func TestHub_SubscriptionFiltersEvents(t *testing.T) {
	f := newFixture(t, "BTC")
	conn := dial(t, f)
	for range initialEvents() {
		readEvent(t, conn)
	}

	send(t, conn, models.MClientCommand{Command: CmdSubscribe, Symbols: []string{"btc"}})
	// Commands are applied in order; once the hide lands, the subscription has too.
	hidden := false
	send(t, conn, models.MClientCommand{Command: CmdVisibility, Visible: &hidden})
	require.Eventually(t, func() bool { return !f.scheduler.Visibility().IsVisible() }, time.Second, 5*time.Millisecond)

	f.state.ApplyOrders([]models.MOrder{{ID: "1", Symbol: "ETH", Timestamp: 1}})
	f.state.ApplyOrders([]models.MOrder{{ID: "2", Symbol: "BTC", Timestamp: 1}})

	ev := readEvent(t, conn)
	assert.Equal(t, models.EventOrders, ev.Kind)
	assert.Equal(t, []string{"BTC"}, ev.Symbols)

	_, err := f.registry.Add("SOL")
	require.NoError(t, err)
	ev = readEvent(t, conn)
	assert.Equal(t, models.EventWatchlist, ev.Kind, "symbol-less events always delivered")
}

func TestHub_StopDisconnectsClients(t *testing.T) {
	f := newFixture(t)
	conn := dial(t, f)
	for range initialEvents() {
		readEvent(t, conn)
	}

	require.NoError(t, f.server.Stop())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)

	f.server.Broadcast(models.MStateEvent{Kind: models.EventQuotes})
}
