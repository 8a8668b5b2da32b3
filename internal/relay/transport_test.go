package relay

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var errFakeClosed = errors.New("use of closed network connection")

// fakeConn is an in-memory Transport. Reads block until Close; writes are
// recorded and also published on the writes channel.
type fakeConn struct {
	mu          sync.Mutex
	frames      [][]byte
	controls    []int
	pongHandler func(string) error
	readLimit   int64
	writeErr    error
	pingErr     error

	writes    chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		writes: make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	<-c.closed
	return 0, nil, errFakeClosed
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.frames = append(c.frames, data)
	c.writes <- data
	return nil
}

func (c *fakeConn) WriteControl(messageType int, _ []byte, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isClosed() {
		return errFakeClosed
	}
	if messageType == websocket.PingMessage && c.pingErr != nil {
		return c.pingErr
	}
	c.controls = append(c.controls, messageType)
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) SetReadLimit(limit int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readLimit = limit
}

func (c *fakeConn) SetPongHandler(h func(string) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pongHandler = h
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// pong simulates a heartbeat acknowledgment from the peer. It reports false
// if the read pump has not installed its handler yet.
func (c *fakeConn) pong() bool {
	c.mu.Lock()
	h := c.pongHandler
	c.mu.Unlock()
	if h == nil {
		return false
	}
	_ = h("")
	return true
}

func (c *fakeConn) controlCount(messageType int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.controls {
		if t == messageType {
			n++
		}
	}
	return n
}
