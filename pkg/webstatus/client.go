package webstatus

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeDeadline = 10 * time.Second
	pongDeadline  = 60 * time.Second
	pingInterval  = 30 * time.Second
)

// wsClient is one connected stream watcher. The stream is push-only;
// the read pump exists to service pings and detect disconnects.
type wsClient struct {
	id     int64
	conn   *websocket.Conn
	server *Server
	sendCh chan streamMessage
	done   chan struct{}

	closeOnce sync.Once
}

func (c *wsClient) send(msg streamMessage) {
	select {
	case c.sendCh <- msg:
	case <-c.done:
	default:
		// Slow consumer: dropping a push beats stalling the broadcast.
	}
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *wsClient) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.close()
	}()

	c.conn.SetReadLimit(4 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(pongDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongDeadline))
		return nil
	})

	for {
		// Incoming payloads are discarded; the stream takes no commands.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.WithError(err).Debug("websocket read ended")
			}
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteJSON(msg); err != nil {
				logger.WithError(err).Debug("websocket write failed")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithError(err).Warn("status encode failed")
	}
}
