// Package transporttest provides an in-memory transport.Conn for tests.
package transporttest

import (
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// Conn records outbound writes on a channel and serves inbound messages
// pushed with Inject. ReadMessage blocks until a message is injected or the
// connection is closed.
type Conn struct {
	Out chan []byte

	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	failNext bool
}

func NewConn() *Conn {
	return &Conn{
		Out:    make(chan []byte, 256),
		in:     make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (c *Conn) ReadMessage() (int, []byte, error) {
	select {
	case b := <-c.in:
		return websocket.TextMessage, b, nil
	case <-c.closed:
		return 0, nil, io.EOF
	}
}

func (c *Conn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	fail := c.failNext
	c.mu.Unlock()
	if fail {
		return errors.New("transporttest: write failed")
	}
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	default:
	}
	cp := append([]byte(nil), data...)
	c.Out <- cp
	return nil
}

func (c *Conn) SetWriteDeadline(time.Time) error { return nil }

func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// IsClosed reports whether Close was called.
func (c *Conn) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Inject queues an inbound message.
func (c *Conn) Inject(b []byte) { c.in <- b }

// FailWrites makes every following write fail.
func (c *Conn) FailWrites() {
	c.mu.Lock()
	c.failNext = true
	c.mu.Unlock()
}

// Next waits for the next outbound message.
func (c *Conn) Next(t testing.TB) []byte {
	t.Helper()
	select {
	case b := <-c.Out:
		return b
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for outbound message")
		return nil
	}
}

// NextAction waits for the next outbound message and returns its action tag
// together with the decoded object.
func (c *Conn) NextAction(t testing.TB) (string, map[string]any) {
	t.Helper()
	b := c.Next(t)
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("outbound message is not JSON: %v (%s)", err, b)
	}
	action, _ := m["action"].(string)
	return action, m
}

// ExpectSilence fails if a message arrives within d.
func (c *Conn) ExpectSilence(t testing.TB, d time.Duration) {
	t.Helper()
	select {
	case b := <-c.Out:
		t.Fatalf("unexpected outbound message: %s", b)
	case <-time.After(d):
	}
}
