package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/example/agro-freight/internal/auth"
	"github.com/example/agro-freight/internal/observability"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Any origin; the token is checked before upgrade.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Every frame, in either direction, is discriminated by "type", the same key
// broadcast.Message uses.
const (
	frameJoin  = "join-shipment"
	frameLeave = "leave-shipment"

	frameJoined = "joined"
	frameLeft   = "left"
	frameError  = "error"
)

type inFrame struct {
	Type       string `json:"type"`
	ShipmentID string `json:"shipmentId"`
}

type outFrame struct {
	Type       string `json:"type"`
	ShipmentID string `json:"shipmentId,omitempty"`
	Message    string `json:"message,omitempty"`
}

// wsClient is one tracking socket. It implements broadcast.Subscriber.
type wsClient struct {
	id    string
	actor auth.Actor
	conn  *websocket.Conn
	send  chan []byte
	done  chan struct{}
	once  sync.Once
}

func (c *wsClient) ID() string { return c.id }

func (c *wsClient) Send(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *wsClient) close() { c.once.Do(func() { close(c.done) }) }

func (c *wsClient) reply(f outFrame) {
	b, err := json.Marshal(f)
	if err != nil {
		return
	}
	c.Send(b)
}

// handleWS authenticates before upgrading; a bad token never gets a socket.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	actor, err := s.auth.Verify(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	c := &wsClient{
		id:    uuid.NewString(),
		actor: actor,
		conn:  conn,
		send:  make(chan []byte, sendBuffer),
		done:  make(chan struct{}),
	}
	observability.WSConnections.Inc()
	s.logger.Info("ws connected", "conn", c.id, "user", actor.UserID, "role", actor.Role)

	go s.writePump(c)
	s.readPump(c)
}

func (s *Server) readPump(c *wsClient) {
	defer func() {
		s.hub.Disconnect(c)
		c.close()
		c.conn.Close()
		observability.WSConnections.Dec()
		s.logger.Info("ws disconnected", "conn", c.id, "user", c.actor.UserID)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("ws read error", "conn", c.id, "error", err)
			}
			return
		}
		var f inFrame
		if err := json.Unmarshal(data, &f); err != nil {
			c.reply(outFrame{Type: frameError, Message: "malformed frame"})
			continue
		}
		s.handleFrame(c, f)
	}
}

func (s *Server) handleFrame(c *wsClient, f inFrame) {
	if f.ShipmentID == "" && (f.Type == frameJoin || f.Type == frameLeave) {
		c.reply(outFrame{Type: frameError, Message: "shipmentId is required"})
		return
	}
	switch f.Type {
	case frameJoin:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := s.svc.Authorize(ctx, f.ShipmentID, c.actor.UserID)
		cancel()
		if err != nil {
			c.reply(outFrame{Type: frameError, ShipmentID: f.ShipmentID, Message: err.Error()})
			return
		}
		s.hub.Join(c, f.ShipmentID)
		c.reply(outFrame{Type: frameJoined, ShipmentID: f.ShipmentID})
	case frameLeave:
		s.hub.Leave(c, f.ShipmentID)
		c.reply(outFrame{Type: frameLeft, ShipmentID: f.ShipmentID})
	default:
		c.reply(outFrame{Type: frameError, Message: "unknown event " + f.Type})
	}
}

func (s *Server) writePump(c *wsClient) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case payload := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}
