package session

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"collabhub/internal/models"
)

const (
	writeWait         = 10 * time.Second
	defaultSendBuffer = 256
)

// Client is the transport half of a session. Frames are queued on a bounded
// channel and written by a single pump goroutine, so Send never blocks the
// room that calls it.
type Client struct {
	Conn *websocket.Conn

	mu          sync.Mutex
	hook        func(models.WSFrame)
	send        chan []byte
	closed      bool
	closeCode   int
	closeReason string
	started     bool
	done        chan struct{}
}

func NewClient(conn *websocket.Conn, buffer int) *Client {
	if buffer <= 0 {
		buffer = defaultSendBuffer
	}
	return &Client{
		Conn:      conn,
		send:      make(chan []byte, buffer),
		closeCode: websocket.CloseNormalClosure,
		done:      make(chan struct{}),
	}
}

// Start launches the write pump. pingInterval > 0 enables keepalive pings.
func (c *Client) Start(pingInterval time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.Conn == nil {
		return
	}
	c.started = true
	go c.writePump(pingInterval)
}

// SetSendHook replaces the default WebSocket sender (used in tests).
func (c *Client) SetSendHook(fn func(models.WSFrame)) {
	c.mu.Lock()
	c.hook = fn
	c.mu.Unlock()
}

func (c *Client) Send(frame models.WSFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return c.deliver(frame, data)
}

// deliver enqueues an already encoded frame. It fails with ErrClientGone when
// the client is closed or its queue is full.
func (c *Client) deliver(frame models.WSFrame, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientGone
	}
	if c.hook != nil {
		c.hook(frame)
		return nil
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrClientGone
	}
}

// Close flushes queued frames, sends a close frame with code and reason and
// closes the connection. Only the first call has an effect.
func (c *Client) Close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.closeCode = code
	c.closeReason = reason
	close(c.send)
}

func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Wait blocks until the write pump exits or the timeout elapses. It reports
// whether the pump is gone.
func (c *Client) Wait(timeout time.Duration) bool {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if !started {
		return true
	}
	select {
	case <-c.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (c *Client) writePump(pingInterval time.Duration) {
	defer close(c.done)
	defer c.Conn.Close()

	var ping <-chan time.Time
	if pingInterval > 0 {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case data, ok := <-c.send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.mu.Lock()
				code, reason := c.closeCode, c.closeReason
				c.mu.Unlock()
				_ = c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-ping:
			if err := c.Conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "")
				return
			}
		}
	}
}
