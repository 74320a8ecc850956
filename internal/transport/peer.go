// Package transport carries JSON envelopes over websockets for both the code
// hub and the event bus. A Peer owns one socket, an ordered outbound queue and
// the single goroutine allowed to write to the socket. A Set is a connection
// registry meant to be owned by one event loop.
package transport

import (
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"livehub/pkg/protocol"
)

// Conn is the subset of *websocket.Conn a Peer needs.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// State of a Peer. Transitions only move forward.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// ErrClosed is returned when sending to a closed peer.
var ErrClosed = errors.New("transport: peer closed")

// Defaults applied when PeerOptions fields are unset.
const (
	defaultMaxPending   = 1024
	defaultWriteTimeout = 10 * time.Second
)

// PeerOptions tune a Peer.
type PeerOptions struct {
	// Queued messages beyond this close the peer as a slow consumer.
	MaxPending   int
	WriteTimeout time.Duration
	RemoteAddr   string
	Logger       *zerolog.Logger
}

var peerSeq atomic.Uint64

// Peer is one live socket.
type Peer struct {
	id         string
	openedAt   time.Time
	remoteAddr string

	conn         Conn
	maxPending   int
	writeTimeout time.Duration
	log          zerolog.Logger

	state atomic.Int32

	mu      sync.Mutex
	pending [][]byte
	wake    chan struct{}

	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

// NewPeer wraps conn. The peer starts in StateConnecting.
func NewPeer(conn Conn, opts PeerOptions) *Peer {
	p := &Peer{
		id:           "c" + strconv.FormatUint(peerSeq.Add(1), 10),
		openedAt:     time.Now(),
		remoteAddr:   opts.RemoteAddr,
		conn:         conn,
		maxPending:   opts.MaxPending,
		writeTimeout: opts.WriteTimeout,
		log:          zerolog.Nop(),
		wake:         make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
	if p.maxPending <= 0 {
		p.maxPending = defaultMaxPending
	}
	if p.writeTimeout <= 0 {
		p.writeTimeout = defaultWriteTimeout
	}
	if opts.Logger != nil {
		p.log = opts.Logger.With().Str("conn", p.id).Logger()
	}
	return p
}

func (p *Peer) ID() string            { return p.id }
func (p *Peer) OpenedAt() time.Time   { return p.openedAt }
func (p *Peer) RemoteAddr() string    { return p.remoteAddr }
func (p *Peer) State() State          { return State(p.state.Load()) }
func (p *Peer) Closed() bool          { return p.State() == StateClosed }
func (p *Peer) Done() <-chan struct{} { return p.done }

// MarkOpen moves a connecting peer to open. It reports false if the peer was
// already closed.
func (p *Peer) MarkOpen() bool {
	return p.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen))
}

// Enqueue appends raw bytes to the outbound queue. It never blocks. A closed
// peer, or one whose queue is full, rejects the message; the latter is closed.
func (p *Peer) Enqueue(msg []byte) error {
	if p.Closed() {
		return ErrClosed
	}
	p.mu.Lock()
	if len(p.pending) >= p.maxPending {
		p.mu.Unlock()
		p.log.Warn().Int("pending", p.maxPending).Msg("slow consumer, closing")
		p.Close()
		return ErrClosed
	}
	p.pending = append(p.pending, msg)
	p.mu.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}
	return nil
}

// Send encodes and enqueues a wire message.
func (p *Peer) Send(m protocol.Message) error {
	b, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	return p.Enqueue(b)
}

// Start launches the writer goroutine. Calling it more than once is harmless.
func (p *Peer) Start() {
	p.startOnce.Do(func() { go p.writeLoop() })
}

func (p *Peer) writeLoop() {
	for {
		select {
		case <-p.done:
			return
		case <-p.wake:
		}
		p.mu.Lock()
		batch := p.pending
		p.pending = nil
		p.mu.Unlock()
		for _, msg := range batch {
			_ = p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout))
			if err := p.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				p.log.Debug().Err(err).Msg("write failed")
				p.Close()
				return
			}
		}
	}
}

// ReadLoop delivers inbound text messages to fn until the socket fails or the
// peer is closed. It closes the peer before returning.
func (p *Peer) ReadLoop(fn func([]byte)) error {
	defer p.Close()
	for {
		mt, data, err := p.conn.ReadMessage()
		if err != nil {
			if p.Closed() {
				return nil
			}
			return err
		}
		if mt != websocket.TextMessage {
			continue
		}
		fn(data)
	}
}

// Close transitions to StateClosed and closes the socket. Idempotent.
func (p *Peer) Close() {
	p.closeOnce.Do(func() {
		p.state.Store(int32(StateClosed))
		close(p.done)
		_ = p.conn.Close()
	})
}
