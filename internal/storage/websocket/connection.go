package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/tracelab/startupcal/pkg/streaming"
)

const (
	sendChSize   = 256
	maxReconnect = 10
	maxBackoff   = 30 * time.Second
	writeWait    = 10 * time.Second
	ackTimeout   = 10 * time.Second
)

// connection manages a WebSocket connection with a single write goroutine.
// Acks are routed to waiters by envelope ID.
type connection struct {
	mu      sync.Mutex
	conn    *ws.Conn
	sendCh  chan []byte
	pending map[string]chan streaming.AckMessage
	done    chan struct{} // closed on shutdown
	stop    chan struct{} // closed when the current conn is replaced
	closed  bool

	wsURL  string
	secret string

	// hello message replayed after reconnect
	helloMsg []byte

	backoff time.Duration
	logger  *slog.Logger
}

func newConnection(logger *slog.Logger) *connection {
	return &connection{
		sendCh:  make(chan []byte, sendChSize),
		pending: make(map[string]chan streaming.AckMessage),
		done:    make(chan struct{}),
		backoff: time.Second,
		logger:  logger,
	}
}

// dial connects to the WebSocket server and starts read/write loops.
func (c *connection) dial(rawURL, secret string, hello []byte) error {
	c.wsURL = rawURL
	c.secret = secret
	c.helloMsg = hello

	conn, err := c.dialOnce()
	if err != nil {
		return err
	}
	if err := c.writeHello(conn); err != nil {
		_ = conn.Close()
		return err
	}

	stop := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.stop = stop
	c.mu.Unlock()

	go c.writeLoop(conn, stop)
	go c.readLoop(conn)

	return nil
}

// dialOnce performs a single WebSocket dial with the secret query param.
func (c *connection) dialOnce() (*ws.Conn, error) {
	u, err := url.Parse(c.wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}
	q := u.Query()
	q.Set("secret", c.secret)
	u.RawQuery = q.Encode()

	conn, _, err := ws.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

func (c *connection) writeHello(conn *ws.Conn) error {
	if c.helloMsg == nil {
		return nil
	}
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := conn.WriteMessage(ws.TextMessage, c.helloMsg); err != nil {
		return fmt.Errorf("write hello: %w", err)
	}
	return nil
}

// writeLoop drains sendCh and writes messages to conn.
// It returns on error or shutdown.
func (c *connection) writeLoop(conn *ws.Conn, stop <-chan struct{}) {
	for {
		select {
		case <-c.done:
			return
		case <-stop:
			return
		case data := <-c.sendCh:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("WebSocket SetWriteDeadline error", "error", err)
				go c.reconnect(conn)
				return
			}
			if err := conn.WriteMessage(ws.TextMessage, data); err != nil {
				c.logger.Warn("WebSocket write error", "error", err)
				go c.reconnect(conn)
				return
			}
		}
	}
}

// readLoop reads ack messages from the server and routes them to their waiter.
func (c *connection) readLoop(conn *ws.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			c.logger.Warn("WebSocket read error", "error", err)
			go c.reconnect(conn)
			return
		}

		var ack streaming.AckMessage
		if err := json.Unmarshal(message, &ack); err != nil || ack.Type != streaming.TypeAck {
			c.logger.Debug("Non-ack message received", "raw", string(message))
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[ack.ID]
		delete(c.pending, ack.ID)
		c.mu.Unlock()
		if !ok {
			c.logger.Debug("Unexpected ack", "for", ack.For, "id", ack.ID)
			continue
		}
		ch <- ack
	}
}

// reconnect replaces broken with a fresh connection using exponential backoff.
// Only the first caller for a given broken connection does any work.
func (c *connection) reconnect(broken *ws.Conn) {
	c.mu.Lock()
	if c.closed || c.conn != broken {
		c.mu.Unlock()
		return
	}
	_ = c.conn.Close()
	c.conn = nil
	close(c.stop)
	c.mu.Unlock()

	backoff := c.backoff
	for attempt := 1; attempt <= maxReconnect; attempt++ {
		c.logger.Info("Reconnecting to WebSocket", "attempt", attempt, "backoff", backoff)
		select {
		case <-c.done:
			return
		case <-time.After(backoff):
		}

		conn, err := c.dialOnce()
		if err == nil {
			err = c.writeHello(conn)
			if err != nil {
				_ = conn.Close()
			}
		}
		if err != nil {
			c.logger.Warn("Reconnect failed", "attempt", attempt, "error", err)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = conn.Close()
			return
		}
		stop := make(chan struct{})
		c.conn = conn
		c.stop = stop
		c.mu.Unlock()

		c.logger.Info("WebSocket reconnected", "attempt", attempt)
		go c.writeLoop(conn, stop)
		go c.readLoop(conn)
		return
	}

	c.logger.Error("WebSocket reconnect failed after max attempts", "maxAttempts", maxReconnect)
}

// request sends an envelope and blocks until the server acknowledges its ID
// or the timeout expires.
func (c *connection) request(id string, data []byte, timeout time.Duration) (streaming.AckMessage, error) {
	ch := make(chan streaming.AckMessage, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return streaming.AckMessage{}, fmt.Errorf("connection closed")
	}
	c.pending[id] = ch
	c.mu.Unlock()

	forget := func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}

	select {
	case c.sendCh <- data:
	default:
		forget()
		return streaming.AckMessage{}, fmt.Errorf("websocket send channel full")
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ack := <-ch:
		return ack, nil
	case <-timer.C:
		forget()
		return streaming.AckMessage{}, fmt.Errorf("timeout waiting for ack of %q", id)
	case <-c.done:
		return streaming.AckMessage{}, fmt.Errorf("connection closed while waiting for ack of %q", id)
	}
}

// close sends a WebSocket close frame and shuts down all goroutines.
func (c *connection) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(
			ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		return conn.Close()
	}
	return nil
}
