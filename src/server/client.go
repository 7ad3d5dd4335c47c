package server

import (
	"time"

	"dashboard-sync/src/models"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

// -----------------------------------------------------------------------------
// Constants
// -----------------------------------------------------------------------------

const (
	writeWait      = 2 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// -----------------------------------------------------------------------------
// Client Structure
// -----------------------------------------------------------------------------

type Client struct {
	hub  *DashboardServer
	conn *websocket.Conn
	send chan models.MStateEvent

	// Owned by the hub goroutine.
	visible bool
	symbols map[string]struct{}
}

// wants reports whether the event matches the client's symbol subscription.
// Events without symbols, and clients without a subscription, always match.
func (c *Client) wants(event models.MStateEvent) bool {
	if len(c.symbols) == 0 || len(event.Symbols) == 0 {
		return true
	}
	for _, sym := range event.Symbols {
		if _, ok := c.symbols[sym]; ok {
			return true
		}
	}
	return false
}

// -----------------------------------------------------------------------------
// readPump - handles incoming commands from the dashboard
// Act as a Watchdog for the connection
// -----------------------------------------------------------------------------

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
		c.hub.Logger.Info("Client disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.Logger.Info("WebSocket error: %v", err)
			}
			return
		}

		var cmd models.MClientCommand
		if err := json.Unmarshal(message, &cmd); err != nil {
			c.hub.Logger.Info("Failed to parse client command: %v, disconnecting client", err)
			return
		}
		c.hub.handleClientMessage(c, cmd)
	}
}

// -----------------------------------------------------------------------------
// writePump - sends state events to the dashboard
// -----------------------------------------------------------------------------

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := json.Marshal(message)
			if err != nil {
				c.hub.Logger.Error("Failed to encode event: %v", err)
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.hub.Logger.Info("Write error: %v", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
