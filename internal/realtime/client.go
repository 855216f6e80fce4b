package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"livesync/internal/realtime/config"
	"livesync/pkg/model"
)

// Client is the websocket side of a session.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	session *Session
	cfg     config.Config
}

// readPump reads requests and runs them one at a time, so replies go out in
// request order.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return nil
	})
	name := c.session.endpoint.Collection.Name
	slog.Info("[Info][WS] WebSocket connection established", "session", c.session.ID(), "collection", name)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				slog.Warn("[Warn][WS] WebSocket connection closed", "session", c.session.ID(), "error", err)
			} else {
				slog.Info("[Info][WS] WebSocket connection closed", "session", c.session.ID())
			}
			return
		}

		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			c.session.Reply(errorMessage("", model.Validationf("malformed request: %v", err)))
			continue
		}
		slog.Debug("[Debug][WS] Received request", "session", c.session.ID(), "method", req.Method, "id", req.ID)
		c.session.Handle(context.Background(), req)
	}
}

// writePump writes queued messages and keeps the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.cfg.PingPeriod())
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg := <-c.session.Outbox():
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				slog.Debug("[Debug][WS] Write failed", "session", c.session.ID(), "error", err)
				return
			}

		case <-c.session.Done():
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
