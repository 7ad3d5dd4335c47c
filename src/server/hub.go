package server

import (
	"net/http"

	"dashboard-sync/src/models"
	"dashboard-sync/src/normalizer"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Client commands accepted on the websocket.
const (
	CmdVisibility = "visibility"
	CmdSubscribe  = "subscribe"
)

type clientCommand struct {
	client *Client
	cmd    models.MClientCommand
}

// -----------------------------------------------------------------------------
// Hub Pattern Implementation
// -----------------------------------------------------------------------------

func (s *DashboardServer) startHub() {
	s.hubOnce.Do(func() {
		go s.handleWebsockets()
	})
}

// handleWebsockets is the main Hub loop. It alone touches s.clients and the
// per-client visibility and subscription fields.
func (s *DashboardServer) handleWebsockets() {
	s.updateVisibility()

	for {
		select {
		case client := <-s.register:
			s.clients[client] = struct{}{}
			s.clientsChanged()
			for _, ev := range initialEvents() {
				client.send <- ev
			}

		case client := <-s.unregister:
			s.drop(client)

		case cc := <-s.commands:
			if _, ok := s.clients[cc.client]; ok {
				s.applyCommand(cc.client, cc.cmd)
			}

		case event := <-s.broadcast:
			for client := range s.clients {
				if !client.wants(event) {
					continue
				}
				select {
				case client.send <- event:
				default:
					// Client too slow, disconnect to prevent Hub blocking
					s.Logger.Warning("Dropping slow dashboard client")
					s.drop(client)
				}
			}

		case <-s.done:
			for client := range s.clients {
				delete(s.clients, client)
				close(client.send)
			}
			s.clientsChanged()
			return
		}
	}
}

// -----------------------------------------------------------------------------

func (s *DashboardServer) drop(client *Client) {
	if _, ok := s.clients[client]; !ok {
		return
	}
	delete(s.clients, client)
	close(client.send)
	s.clientsChanged()
}

func (s *DashboardServer) clientsChanged() {
	n := len(s.clients)
	s.clientCount.Store(int64(n))
	if s.deps.Metrics != nil {
		s.deps.Metrics.ClientsConnected(n)
	}
	s.updateVisibility()
}

// updateVisibility marks the document visible while at least one connected
// dashboard reports itself visible.
func (s *DashboardServer) updateVisibility() {
	if s.visibility == nil {
		return
	}
	visible := false
	for client := range s.clients {
		if client.visible {
			visible = true
			break
		}
	}
	s.visibility.Set(visible)
}

func (s *DashboardServer) applyCommand(client *Client, cmd models.MClientCommand) {
	switch cmd.Command {
	case CmdVisibility:
		if cmd.Visible == nil {
			return
		}
		client.visible = *cmd.Visible
		s.updateVisibility()
	case CmdSubscribe:
		client.symbols = make(map[string]struct{})
		for _, sym := range normalizer.NormalizeSymbols(cmd.Symbols) {
			client.symbols[sym] = struct{}{}
		}
	default:
		s.Logger.Debug("Ignoring unknown client command %q", cmd.Command)
	}
}

// -----------------------------------------------------------------------------
// Data Exchange Interface Implementation
// -----------------------------------------------------------------------------

// Broadcast queues a state event for every interested client.
func (s *DashboardServer) Broadcast(event models.MStateEvent) {
	select {
	case s.broadcast <- event:
	case <-s.done:
	}
}

// -----------------------------------------------------------------------------
// WebSocket Handlers
// -----------------------------------------------------------------------------

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *DashboardServer) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Logger.Info("Failed to upgrade websocket: %v", err)
		return
	}

	client := &Client{
		hub:     s,
		conn:    conn,
		send:    make(chan models.MStateEvent, 256),
		visible: true,
	}

	select {
	case s.register <- client:
	case <-s.done:
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// -----------------------------------------------------------------------------

// handleClientMessage forwards a parsed command to the hub.
func (s *DashboardServer) handleClientMessage(client *Client, cmd models.MClientCommand) {
	select {
	case s.commands <- clientCommand{client: client, cmd: cmd}:
	case <-s.done:
	}
}
