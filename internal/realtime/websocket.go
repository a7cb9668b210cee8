package realtime

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const (
	pongWait   = 60 * time.Second // Time allowed to read the next pong
	pingPeriod = 30 * time.Second // Send pings at this interval (must be < pongWait)
	writeWait  = 10 * time.Second // Time allowed to write a message
	maxMsgSize = 4 * 1024         // Inbound frames are control traffic only
	sendBuffer = 256              // Per-client outbound channel buffer
)

// Client is one WebSocket subscriber to a group's stream. All writes go
// through the send channel into writePump, so nothing ever writes to the
// connection concurrently.
type Client struct {
	hub     *Hub
	groupID string
	userID  string
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	once    sync.Once
}

// HandleStream upgrades GET /content/groups/{groupId}/stream to a
// WebSocket and attaches the client to the hub. The stream is one-way:
// clients receive feed-affecting events for the group and send nothing.
func (h *Hub) HandleStream(allowedOrigins []string) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     buildCheckOrigin(allowedOrigins, h.logger),
	}

	return func(w http.ResponseWriter, r *http.Request) {
		groupID := mux.Vars(r)["groupId"]
		if groupID == "" {
			http.Error(w, "missing group id", http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Warn("websocket upgrade failed", "group_id", groupID, "error", err)
			return
		}

		client := &Client{
			hub:     h,
			groupID: groupID,
			userID:  r.URL.Query().Get("user"),
			conn:    conn,
			send:    make(chan []byte, sendBuffer),
			done:    make(chan struct{}),
		}
		h.register(client)

		// writePump owns all writes, readPump owns all reads.
		go client.writePump()
		go client.readPump()
	}
}

// buildCheckOrigin returns the upgrader's origin check. With no allowlist
// every origin is accepted; otherwise only listed origins and non-browser
// clients (no Origin header) may connect.
func buildCheckOrigin(allowedOrigins []string, logger *slog.Logger) func(r *http.Request) bool {
	if len(allowedOrigins) == 0 {
		return func(*http.Request) bool { return true }
	}

	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[strings.TrimSpace(origin)] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || allowed[origin] {
			return true
		}
		logger.Warn("rejected stream origin", "origin", origin)
		return false
	}
}

// close tears the client down and detaches it from the hub. Safe to call
// from either pump.
func (c *Client) close() {
	c.shutdown()
	c.hub.unregister(c)
}

// shutdown closes the connection exactly once without touching hub state,
// so the hub can call it while holding its own lock.
func (c *Client) shutdown() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// writePump serializes all writes to the connection: queued events, pings,
// and the final close frame.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// Drain whatever queued up behind this frame.
			n := len(c.send)
			for i := 0; i < n; i++ {
				if err := c.conn.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					return
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// readPump consumes the connection for pong frames and close detection.
// Inbound data frames are ignored.
func (c *Client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("stream read failed", "group_id", c.groupID, "error", err)
			}
			return
		}
	}
}
