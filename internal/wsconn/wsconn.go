// Package wsconn is §4.M's thin transport glue: the adapter from a
// net/http upgrade handshake to a duplex, backpressure-propagating
// connection, just concrete enough to give §4.F's socket lifecycle
// something real to drive.
package wsconn

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = pongWait * 9 / 10
	maxMessageSize = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Conn wraps one upgraded WebSocket with the read/write pump pattern: a
// buffered outbound channel absorbs bursts, but a full channel applies
// backpressure to whoever is calling Send — satisfying §5's "the proxy does
// not buffer unbounded" by making the Kafka consumer loop (the only caller
// of Send for a consumer socket) block instead of growing a second buffer.
type Conn struct {
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}

	// Inbound carries every text/binary frame the peer sends (acks from a
	// consumer, records from a producer). Closed when the read pump exits.
	Inbound chan []byte
}

// Upgrade completes the handshake and starts the read/write pumps. sendBuf
// bounds how many outbound frames may be queued before Send blocks.
func Upgrade(w http.ResponseWriter, r *http.Request, sendBuf int) (*Conn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	ws.SetReadLimit(maxMessageSize)

	c := &Conn{
		ws:      ws,
		send:    make(chan []byte, sendBuf),
		done:    make(chan struct{}),
		Inbound: make(chan []byte, sendBuf),
	}
	go c.readPump()
	go c.writePump()
	return c, nil
}

// Send queues payload for delivery, blocking if the outbound buffer is
// full. Returns ErrClosed once the connection has gone away.
func (c *Conn) Send(payload []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// Close closes the underlying socket and stops both pumps. Idempotent.
func (c *Conn) Close() error {
	select {
	case <-c.done:
		return nil
	default:
	}
	close(c.done)
	return c.ws.Close()
}

// Done is closed once the connection has torn down for any reason (peer
// disconnect, read/write error, explicit Close). The socket lifecycle glue
// waits on this to know when to run cleanup.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) readPump() {
	defer close(c.Inbound)
	defer c.Close()

	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		select {
		case c.Inbound <- msg:
		case <-c.done:
			return
		}
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer c.Close()

	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

var ErrClosed = errors.New("wsconn: connection is closed")
