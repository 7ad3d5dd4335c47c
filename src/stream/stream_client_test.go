package stream

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"dashboard-sync/src/helpers"
	"dashboard-sync/src/logger"
	"dashboard-sync/src/models"
	"dashboard-sync/src/store"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type kindCounter struct {
	mu    sync.Mutex
	kinds map[string]int
}

func (k *kindCounter) StreamMessage(kind string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.kinds == nil {
		k.kinds = make(map[string]int)
	}
	k.kinds[kind]++
}

func (k *kindCounter) count(kind string) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.kinds[kind]
}

func newClient(url string) (*StreamClient, *store.TradingState, *kindCounter) {
	state := store.NewTradingState(10, logger.NewLoggerWithWriter(io.Discard, nil, "TradingState"))
	c := NewStreamClient(url, state, logger.NewLoggerWithWriter(io.Discard, nil, "StreamClient"))
	rec := &kindCounter{}
	c.SetRecorder(rec)
	return c, state, rec
}

// -----------------------------------------------------------------------------

func TestHandleMessage_SnapshotReplacesAndQuotesUpsert(t *testing.T) {
	c, state, rec := newClient("")

	var events []models.MStateEvent
	state.Subscribe(func(e models.MStateEvent) { events = append(events, e) })

	require.NoError(t, c.HandleMessage([]byte(`{"type":"snapshot","quotes":[{"symbol":"btc","bid":1,"ask":3},{"symbol":"eth","bid":2,"ask":4}]}`)))
	q, ok := state.Quote("BTC")
	require.True(t, ok)
	assert.Equal(t, 2.0, q.Mid)

	require.NoError(t, c.HandleMessage([]byte(`{"type":"quotes","quotes":{"eth":{"bid":5,"ask":7}}}`)))
	q, _ = state.Quote("ETH")
	assert.Equal(t, 6.0, q.Mid)
	_, ok = state.Quote("BTC")
	assert.True(t, ok, "incremental update keeps other symbols")

	require.NoError(t, c.HandleMessage([]byte(`{"type":"snapshot","quotes":[{"symbol":"SOL","bid":1,"ask":1}]}`)))
	assert.Len(t, state.Quotes(), 1)

	require.Len(t, events, 3)
	assert.Equal(t, []string{"BTC", "ETH"}, events[0].Symbols)
	assert.Equal(t, []string{"ETH"}, events[1].Symbols)
	assert.Equal(t, []string{"BTC", "ETH", "SOL"}, events[2].Symbols)

	assert.Equal(t, 2, rec.count(models.StreamSnapshot))
	assert.Equal(t, 1, rec.count(models.StreamQuotes))
}

func TestHandleMessage_PingOnlyRecordsLiveness(t *testing.T) {
	c, state, _ := newClient("")
	published := 0
	state.Subscribe(func(models.MStateEvent) { published++ })

	assert.True(t, c.LastPing().IsZero())
	require.NoError(t, c.HandleMessage([]byte(`{"type":"ping","ts":1700000000000}`)))

	assert.Equal(t, int64(1700000000000), c.LastPing().UnixMilli())
	assert.Zero(t, published)

	require.NoError(t, c.HandleMessage([]byte(`{"type":"ping"}`)))
	assert.WithinDuration(t, time.Now(), c.LastPing(), 5*time.Second)
}

func TestHandleMessage_DropsMalformedAndUnknown(t *testing.T) {
	c, state, rec := newClient("")
	require.NoError(t, c.HandleMessage([]byte(`{"type":"snapshot","quotes":[{"symbol":"BTC"}]}`)))

	assert.Error(t, c.HandleMessage([]byte(`{not json`)))
	assert.Error(t, c.HandleMessage([]byte(`{"type":"trades","quotes":[]}`)))
	assert.Error(t, c.HandleMessage([]byte(`{"type":"snapshot"}`)))

	assert.Len(t, state.Quotes(), 1, "state untouched by rejected messages")
	assert.Equal(t, 2, rec.count(ResultMalformed))
	assert.Equal(t, 1, rec.count(ResultUnknown))
}

func TestHandleMessage_NonCollectionQuotesNeverWipeState(t *testing.T) {
	c, state, rec := newClient("")
	require.NoError(t, c.HandleMessage([]byte(`{"type":"snapshot","quotes":[{"symbol":"btc","bid":1,"ask":3}]}`)))

	var published int
	unsub := state.Subscribe(func(models.MStateEvent) { published++ })
	defer unsub()

	frames := []string{
		`{"type":"snapshot","quotes":"oops"}`,
		`{"type":"snapshot","quotes":5}`,
		`{"type":"snapshot","quotes":true}`,
		`{"type":"quotes","quotes":"oops"}`,
	}
	for _, frame := range frames {
		err := c.HandleMessage([]byte(frame))
		var decodeErr *helpers.DecodeError
		assert.ErrorAs(t, err, &decodeErr, frame)
	}

	q, ok := state.Quote("BTC")
	require.True(t, ok)
	assert.Equal(t, 2.0, q.Mid)
	assert.Len(t, state.Quotes(), 1)
	assert.Zero(t, published)
	assert.Equal(t, len(frames), rec.count(ResultMalformed))
}

// -----------------------------------------------------------------------------

func TestStreamClient_ConsumesServerMessages(t *testing.T) {
	upgrader := websocket.Upgrader{}
	release := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"snapshot","quotes":[{"symbol":"btcusdt","bid":10,"ask":12}]}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping","ts":42}`))
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c, state, _ := newClient("ws" + strings.TrimPrefix(srv.URL, "http"))
	c.Start(context.Background())
	defer c.Stop()

	assert.Eventually(t, func() bool {
		_, ok := state.Quote("BTCUSDT")
		return ok && c.LastPing().UnixMilli() == 42
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, c.Connected())
}

func TestStreamClient_StopWhileUnreachable(t *testing.T) {
	c, _, _ := newClient("ws://127.0.0.1:1/stream")
	c.MaxBackoff = 10 * time.Millisecond
	c.Start(context.Background())

	done := make(chan struct{})
	go func() {
		c.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return while reconnecting")
	}
	assert.False(t, c.Connected())
}
