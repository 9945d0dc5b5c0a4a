package hub

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/canvassync/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 256
	maxMessageSize = 4 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// client is one websocket connection.
type client struct {
	user User
	conn *websocket.Conn
	send chan []byte
}

func (c *client) room() string { return c.user.CanvasID }

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	user, ok := h.dir.Authenticate(r.URL.Query().Get("token"))
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("failed to upgrade", "error", err)
		return
	}

	c := &client{user: user, conn: conn, send: make(chan []byte, sendBufferSize)}
	present, first := h.join(c)
	go c.writePump()

	ctx := context.Background()
	for _, other := range present {
		h.greet(c, other)
	}
	if first {
		env := protocol.Envelope{Type: protocol.TypePartnerConnected, UserID: user.UserID, Partner: user.profile()}
		if err := h.publish(ctx, c.room(), user.UserID, env); err != nil {
			slog.Warn("failed to announce join", "user_id", user.UserID, "error", err)
		}
	}

	h.readPump(c)

	if h.leave(c) {
		env := protocol.Envelope{Type: protocol.TypePartnerDisconnected, UserID: user.UserID}
		if err := h.publish(ctx, c.room(), user.UserID, env); err != nil {
			slog.Warn("failed to announce leave", "user_id", user.UserID, "error", err)
		}
	}
}

// greet tells a joining client about a partner already in the room.
func (h *Hub) greet(c *client, other User) {
	payload, err := protocol.Encode(protocol.Envelope{
		Type:    protocol.TypePartnerConnected,
		UserID:  other.UserID,
		Partner: other.profile(),
	})
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[c.room()][c]; !ok {
		return
	}
	select {
	case c.send <- payload:
	default:
	}
}

// readPump relays canvas updates until the connection fails.
func (h *Hub) readPump(c *client) {
	defer c.conn.Close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("client read failed", "user_id", c.user.UserID, "error", err)
			}
			return
		}

		env, err := protocol.Decode(data)
		if err != nil {
			slog.Warn("dropping malformed client message", "user_id", c.user.UserID, "error", err)
			continue
		}
		if !env.Type.Known() {
			slog.Warn("dropping unknown client event", "user_id", c.user.UserID, "type", env.Type)
			continue
		}
		if env.Type != protocol.TypeCanvasUpdate {
			// Presence is the hub's to announce.
			slog.Debug("ignoring client presence event", "user_id", c.user.UserID, "type", env.Type)
			continue
		}
		if env.Elements == nil {
			slog.Warn("dropping canvas_update without elements", "user_id", c.user.UserID)
			continue
		}

		update := protocol.CanvasUpdate(c.user.UserID, env.Elements)
		if err := h.publish(context.Background(), c.room(), "", update); err != nil {
			slog.Error("failed to relay canvas update", "user_id", c.user.UserID, "error", err)
		}
	}
}

// writePump drains c.send. It owns all writes to the connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
