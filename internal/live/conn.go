package live

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/livepage/livepage/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

// Event is the envelope for everything pushed to a client.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func errorEvent(msg string) Event {
	return Event{Type: "error", Data: map[string]string{"error": msg}}
}

type clientMessage struct {
	Type    string `json:"type"`
	Token   string `json:"token,omitempty"`
	VideoID string `json:"videoId,omitempty"`
}

// conn owns a websocket. Only writeLoop writes data frames; everything else
// enqueues.
type conn struct {
	kind   string
	ws     *websocket.Conn
	send   chan Event
	closed chan struct{}
	once   sync.Once
}

func newConn(kind string, ws *websocket.Conn) *conn {
	return &conn{
		kind:   kind,
		ws:     ws,
		send:   make(chan Event, sendBuffer),
		closed: make(chan struct{}),
	}
}

// enqueue never blocks. A client too slow to drain its buffer is
// disconnected.
func (c *conn) enqueue(e Event) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.send <- e:
		metrics.IncLiveEvent(c.kind, e.Type)
		return true
	default:
		slog.Warn("live: send buffer full, closing session", "kind", c.kind)
		c.close(websocket.CloseGoingAway, "send buffer full")
		return false
	}
}

func (c *conn) close(code int, reason string) {
	c.once.Do(func() {
		close(c.closed)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		_ = c.ws.Close()
	})
}

func (c *conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case e := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(e); err != nil {
				slog.Debug("live: write failed", "kind", c.kind, "error", err)
				c.close(websocket.CloseInternalServerErr, "write failed")
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close(websocket.CloseGoingAway, "ping failed")
				return
			}
		}
	}
}

// readLoop hands client messages to handle until the connection fails or
// the client goes away.
func (c *conn) readLoop(handle func(clientMessage)) {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("live: connection closed unexpectedly", "kind", c.kind, "error", err)
			}
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.enqueue(errorEvent("invalid message"))
			continue
		}
		handle(msg)
	}
}
