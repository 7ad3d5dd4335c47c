// Package stream consumes the backend push stream and routes quote updates
// into the trading state.
package stream

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"dashboard-sync/src/helpers"
	"dashboard-sync/src/logger"
	"dashboard-sync/src/models"
	"dashboard-sync/src/normalizer"
	"dashboard-sync/src/store"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

const (
	defaultReadTimeout  = 60 * time.Second
	defaultWriteTimeout = 10 * time.Second
	defaultMaxBackoff   = 30 * time.Second
	firstBackoff        = 500 * time.Millisecond
	maxMessageBytes     = 5 << 20
)

// Result labels reported for messages that were not routed.
const (
	ResultMalformed = "malformed"
	ResultUnknown   = "unknown"
)

// MessageRecorder counts stream messages by type.
type MessageRecorder interface {
	StreamMessage(kind string)
}

// -----------------------------------------------------------------------------

type StreamClient struct {
	URL          string
	Header       http.Header
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxBackoff   time.Duration

	state  *store.TradingState
	dialer *websocket.Dialer

	lastPing  atomic.Int64
	connected atomic.Bool

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	wg     sync.WaitGroup

	recorder MessageRecorder
	Logger   *logger.Logger
}

// -----------------------------------------------------------------------------

func NewStreamClient(url string, state *store.TradingState, log *logger.Logger) *StreamClient {
	if log == nil {
		log = logger.NewLogger(nil, "StreamClient")
	}
	return &StreamClient{
		URL:          url,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
		MaxBackoff:   defaultMaxBackoff,
		state:        state,
		dialer:       websocket.DefaultDialer,
		Logger:       log,
	}
}

func (c *StreamClient) SetRecorder(r MessageRecorder) {
	c.recorder = r
}

// LastPing returns the time of the last ping message, zero if none arrived.
func (c *StreamClient) LastPing() time.Time {
	ms := c.lastPing.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func (c *StreamClient) Connected() bool {
	return c.connected.Load()
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Start launches the connect/read loop. It returns immediately; connection
// failures are retried with capped exponential backoff until Stop.
func (c *StreamClient) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(ctx)
	}()
}

// Stop closes the connection and waits for the loop to exit.
func (c *StreamClient) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	conn := c.conn
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if conn != nil {
		_ = conn.Close()
	}
	c.wg.Wait()
	c.Logger.Info("Stream client stopped")
}

// -----------------------------------------------------------------------------

func (c *StreamClient) run(ctx context.Context) {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = firstBackoff
	expo.MaxInterval = c.MaxBackoff
	expo.MaxElapsedTime = 0

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := c.dial(ctx)
		if err != nil {
			wait := expo.NextBackOff()
			c.Logger.Warning("Stream connect to %s failed: %v. Retrying in %v", c.URL, err, wait)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}

		expo.Reset()
		err = c.readLoop(ctx, conn)
		c.setConn(nil)
		if ctx.Err() != nil {
			return
		}
		c.Logger.Warning("Stream disconnected: %v", err)
	}
}

func (c *StreamClient) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.URL, c.Header)
	if err != nil {
		return nil, helpers.NewNetworkError("dial "+c.URL, err)
	}
	c.setConn(conn)
	c.Logger.Info("Connected to stream %s", c.URL)
	return conn, nil
}

func (c *StreamClient) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn != nil && c.conn != conn {
		_ = c.conn.Close()
	}
	c.conn = conn
	c.mu.Unlock()
	c.connected.Store(conn != nil)
}

// -----------------------------------------------------------------------------

func (c *StreamClient) readLoop(ctx context.Context, conn *websocket.Conn) error {
	conn.SetReadLimit(maxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(c.ReadTimeout))

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.ReadTimeout))
	})
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(c.ReadTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(c.WriteTimeout))
	})

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(c.ReadTimeout))

		if err := c.HandleMessage(data); err != nil {
			c.Logger.Warning("Dropped stream message: %v", err)
		}
	}
}

// -----------------------------------------------------------------------------
// Routing
// -----------------------------------------------------------------------------

// HandleMessage routes one raw stream message. A snapshot replaces every
// quote, an incremental quotes message upserts, a ping only records liveness.
// Malformed or unknown messages return an error and change nothing.
func (c *StreamClient) HandleMessage(data []byte) error {
	var msg models.MStreamMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.record(ResultMalformed)
		return helpers.NewDecodeError("stream message", err)
	}

	if msg.Type == models.StreamSnapshot || msg.Type == models.StreamQuotes {
		switch msg.Quotes.(type) {
		case []interface{}, map[string]interface{}:
		default:
			c.record(ResultMalformed)
			return helpers.NewDecodeError("stream "+msg.Type, fmt.Errorf("quotes holds %T, want a list or an object", msg.Quotes))
		}
	}

	switch msg.Type {
	case models.StreamSnapshot:
		quotes, dropped := normalizer.ToQuotes(normalizer.AsRecords(msg.Quotes))
		c.logDropped(dropped)
		c.state.ReplaceQuotes(quotes)
	case models.StreamQuotes:
		quotes, dropped := normalizer.ToQuotes(normalizer.AsRecords(msg.Quotes))
		c.logDropped(dropped)
		c.state.UpsertQuotes(quotes)
	case models.StreamPing:
		c.lastPing.Store(pingTime(msg.Ts))
	default:
		c.record(ResultUnknown)
		return fmt.Errorf("unknown stream message type %q", msg.Type)
	}

	c.record(msg.Type)
	return nil
}

// pingTime uses the ping's own timestamp when it carries one.
func pingTime(ts interface{}) int64 {
	if ms := normalizer.ResolveTimestamp(map[string]interface{}{"ts": ts}, "ts"); ms > 0 {
		return ms
	}
	return time.Now().UnixMilli()
}

func (c *StreamClient) logDropped(n int) {
	if n > 0 {
		c.Logger.Debug("Dropped %d malformed quote(s) from stream", n)
	}
}

func (c *StreamClient) record(kind string) {
	if c.recorder != nil {
		c.recorder.StreamMessage(kind)
	}
}
