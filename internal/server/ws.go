package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/caetera/spectronaut-webui/internal/logstream"
)

const (
	wsSendBuffer   = 256
	wsPingInterval = 30 * time.Second
	wsWriteTimeout = 10 * time.Second

	// logPollInterval is how often an idle connection checks for a newly
	// submitted job to follow.
	logPollInterval = 300 * time.Millisecond
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The UI is served from the same origin; snctl connects without one.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message is the envelope for everything pushed over the WebSocket.
type Message struct {
	Type    string `json:"type"` // "log" or "status"
	Payload any    `json:"payload"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan Message

	closeOnce sync.Once
	done      chan struct{}
}

// handleWS upgrades the connection and streams the current job's log lines
// (backlog first, then live) plus status-change events until the client
// disconnects. When one job's stream ends, the connection follows the next
// submission automatically.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	c := &wsClient{
		conn: conn,
		send: make(chan Message, wsSendBuffer),
		done: make(chan struct{}),
	}

	go c.writePump()
	go s.streamEvents(c)
	go s.streamLogs(c)

	c.readPump()
}

func (s *Server) streamEvents(c *wsClient) {
	sub := s.controller.Events()
	defer sub.Close()

	// The client starts from the current status rather than waiting for
	// the next transition.
	c.trySend(Message{Type: "status", Payload: s.controller.Status()})

	for {
		select {
		case <-c.done:
			return
		case status, ok := <-sub.C():
			if !ok {
				return
			}
			if !c.trySend(Message{Type: "status", Payload: status}) {
				return
			}
		}
	}
}

func (s *Server) streamLogs(c *wsClient) {
	var lastJobID string

	for {
		status := s.controller.Status()

		if status.ID != "" && status.ID != lastJobID {
			lastJobID = status.ID

			sub := s.controller.Logs()
			if sub != nil && !s.followLogs(c, sub) {
				return
			}

			continue
		}

		select {
		case <-c.done:
			return
		case <-time.After(logPollInterval):
		}
	}
}

// followLogs forwards one job's log stream to the client. It returns false
// when the client has gone away.
func (s *Server) followLogs(c *wsClient, sub *logstream.Subscription) bool {
	defer sub.Close()

	stop := make(chan struct{})
	defer close(stop)

	// Unblock a pending Next when the client disconnects.
	go func() {
		select {
		case <-c.done:
			sub.Close()
		case <-stop:
		}
	}()

	for {
		line, ok := sub.Next()
		if !ok {
			select {
			case <-c.done:
				return false
			default:
				return true
			}
		}

		if !c.trySend(Message{Type: "log", Payload: line}) {
			return false
		}
	}
}

// trySend queues a message for the client. It reports false when the client
// is gone or too far behind to keep.
func (c *wsClient) trySend(m Message) bool {
	select {
	case <-c.done:
		return false
	case c.send <- m:
		return true
	default:
		// The replay buffer already bounds loss recovery; a client this
		// slow is disconnected rather than allowed to stall publishers.
		c.close()
		return false
	}
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case m := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteJSON(m); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

// readPump discards client messages and detects disconnection.
func (c *wsClient) readPump() {
	defer c.close()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
