package network

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"dashboard-sync/src/helpers"
	"dashboard-sync/src/logger"
	"dashboard-sync/src/models"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBackendConfig(baseURL string) *models.MBackendConfig {
	return &models.MBackendConfig{
		BaseURL:        baseURL,
		RequestTimeout: 2,
		MaxRetries:     2,
		UserAgent:      "dashboard-sync-test",
		Paths: models.MBackendPaths{
			Orders:    "/api/orders",
			Fills:     "/api/fills",
			Positions: "/api/positions",
			Quotes:    "/api/quotes",
			Metrics:   "/api/metrics",
			Start:     "/api/strategy/start",
			Stop:      "/api/strategy/stop",
			StopAll:   "/api/strategy/stop-all",
			Flatten:   "/api/strategy/flatten",
		},
	}
}

func newTestManager(cfg *models.MBackendConfig) *NetworkManager {
	nm := NewNetworkManager(cfg, logger.NewLoggerWithWriter(io.Discard, nil, "NetworkManager"))
	nm.RetryDelay = time.Millisecond
	return nm
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *BackendClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := testBackendConfig(srv.URL)
	return NewBackendClient(cfg, newTestManager(cfg), logger.NewLoggerWithWriter(io.Discard, nil, "BackendClient"))
}

// -----------------------------------------------------------------------------

func TestGet_SetsHeadersAndQuery(t *testing.T) {
	var gotUA, gotID, gotProvider string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.UserAgent()
		gotID = r.Header.Get(RequestIDHeader)
		gotProvider = r.URL.Query().Get("provider")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	nm := newTestManager(testBackendConfig(srv.URL))
	body, err := nm.Get(context.Background(), srv.URL+"/x", map[string]string{"provider": "binance", "empty": ""})
	require.NoError(t, err)

	assert.Equal(t, "[]", string(body))
	assert.Equal(t, "dashboard-sync-test", gotUA)
	assert.Equal(t, "binance", gotProvider)
	_, err = uuid.Parse(gotID)
	assert.NoError(t, err)
}

func TestGet_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	nm := newTestManager(testBackendConfig(srv.URL))
	_, err := nm.Get(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(3), hits.Load())
}

func TestGet_DoesNotRetryClientErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "no such route", http.StatusNotFound)
	}))
	defer srv.Close()

	nm := newTestManager(testBackendConfig(srv.URL))
	_, err := nm.Get(context.Background(), srv.URL, nil)
	require.Error(t, err)

	var netErr *helpers.NetworkError
	assert.ErrorAs(t, err, &netErr)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	assert.Equal(t, int32(1), hits.Load())
}

func TestGet_GivesUpAfterMaxRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	nm := newTestManager(testBackendConfig(srv.URL))
	_, err := nm.Get(context.Background(), srv.URL, nil)
	assert.Error(t, err)
	assert.Equal(t, int32(3), hits.Load())
}

func TestPostJSON_NotRetried(t *testing.T) {
	var hits atomic.Int32
	var body commandBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	nm := newTestManager(testBackendConfig(srv.URL))
	_, err := nm.PostJSON(context.Background(), srv.URL, nil, commandBody{Symbols: []string{"BTC"}})
	assert.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, []string{"BTC"}, body.Symbols)
}

// -----------------------------------------------------------------------------

func TestBackendClient_FetchOrdersShapes(t *testing.T) {
	payloads := map[string]string{
		"bare array": `[{"id":1,"symbol":"btcusdt","ts_ms":100},{"symbol":"x"}]`,
		"wrapped":    `{"orders":[{"id":1,"symbol":"btcusdt","ts_ms":100},{"symbol":"x"}]}`,
		"data":       `{"data":[{"id":1,"symbol":"btcusdt","ts_ms":100},{"symbol":"x"}]}`,
	}

	for name, payload := range payloads {
		t.Run(name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/orders", r.URL.Path)
				_, _ = w.Write([]byte(payload))
			})

			orders, dropped, err := client.FetchOrders(context.Background())
			require.NoError(t, err)
			require.Len(t, orders, 1)
			assert.Equal(t, "1", orders[0].ID)
			assert.Equal(t, "BTCUSDT", orders[0].Symbol)
			assert.Equal(t, 1, dropped)
		})
	}
}

func TestBackendClient_RejectsUnexpectedShape(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	_, _, err := client.FetchFills(context.Background())
	var decodeErr *helpers.DecodeError
	assert.ErrorAs(t, err, &decodeErr)

	client = newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	})
	_, _, err = client.FetchFills(context.Background())
	assert.ErrorAs(t, err, &decodeErr)
}

func TestBackendClient_LargeNumericIDsStayDistinct(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"id":9007199254740993,"symbol":"BTC","ts_ms":2},
			{"id":9007199254740992,"symbol":"BTC","ts_ms":1}
		]`))
	})

	orders, dropped, err := client.FetchOrders(context.Background())
	require.NoError(t, err)
	assert.Zero(t, dropped)
	require.Len(t, orders, 2)
	assert.Equal(t, "9007199254740993", orders[0].ID)
	assert.Equal(t, "9007199254740992", orders[1].ID)
	assert.Equal(t, int64(2), orders[0].Timestamp)
}

func TestBackendClient_RejectsMalformedEntityValue(t *testing.T) {
	payloads := map[string]string{
		"string under entity key": `{"quotes":"oops"}`,
		"number under data":       `{"data":5}`,
		"null under entity key":   `{"quotes":null}`,
		"no record values":        `{"status":"ok"}`,
		"trailing data":           `{"btc":{"bid":1,"ask":2}} garbage`,
	}

	for name, payload := range payloads {
		t.Run(name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(payload))
			})

			quotes, _, err := client.FetchQuotes(context.Background())
			var decodeErr *helpers.DecodeError
			assert.ErrorAs(t, err, &decodeErr)
			assert.Nil(t, quotes)
		})
	}
}

func TestBackendClient_QuotesKeyedBySymbol(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"btcusdt":{"bid":"100","ask":"102"}}`))
	})

	quotes, _, err := client.FetchQuotes(context.Background())
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.Equal(t, "BTCUSDT", quotes[0].Symbol)
	assert.Equal(t, 101.0, quotes[0].Mid)
}

func TestBackendClient_FetchMetrics(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"metrics":{"entries":{"btc":5},"realized_pnl":{"btc":"1.25"}}}`))
	})

	m, err := client.FetchMetrics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5.0, m.Entries["BTC"])
	assert.Equal(t, 1.25, m.RealizedPnl["BTC"])
	assert.NotNil(t, m.Exits)
}

func TestBackendClient_CommandsCarrySymbolsAndProvider(t *testing.T) {
	type received struct {
		path, provider string
		body           commandBody
	}
	got := make(chan received, 4)

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var body commandBody
		_ = json.NewDecoder(r.Body).Decode(&body)
		got <- received{r.URL.Path, r.URL.Query().Get("provider"), body}
		_, _ = w.Write([]byte(`{"symbols":["IGNORED"]}`))
	})
	client.SetProvider(" binance ")

	ctx := context.Background()
	require.NoError(t, client.StartStrategy(ctx, []string{"BTC", "ETH"}))
	require.NoError(t, client.StopStrategy(ctx, []string{"BTC"}))
	require.NoError(t, client.StopAll(ctx))
	require.NoError(t, client.Flatten(ctx, []string{"ETH"}))

	start := <-got
	assert.Equal(t, "/api/strategy/start", start.path)
	assert.Equal(t, "binance", start.provider)
	assert.Equal(t, []string{"BTC", "ETH"}, start.body.Symbols)

	assert.Equal(t, "/api/strategy/stop", (<-got).path)
	assert.Equal(t, "/api/strategy/stop-all", (<-got).path)
	assert.Equal(t, []string{"ETH"}, (<-got).body.Symbols)
}

func TestBackendClient_CommandFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "strategy engine offline", http.StatusServiceUnavailable)
	})

	err := client.StartStrategy(context.Background(), []string{"BTC"})
	require.Error(t, err)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Contains(t, statusErr.Body, "strategy engine offline")
}
