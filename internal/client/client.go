// Package client is a headless live client: it connects to a hub, runs every
// module it is sent in an executor, and reports results back.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"livehub/internal/executor"
	"livehub/internal/transport"
	"livehub/pkg/protocol"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultMinBackoff = 250 * time.Millisecond
	defaultMaxBackoff = 10 * time.Second
)

// Config tunes a Client.
type Config struct {
	// Hub socket URL, e.g. ws://127.0.0.1:8080/ws.
	URL     string
	Context executor.ExecutionContext
	// Per-execution limit; zero disables it.
	Timeout    time.Duration
	Dialer     *websocket.Dialer
	MinBackoff time.Duration
	MaxBackoff time.Duration
	Logger     *zerolog.Logger
	// Optional observer of every execution, called on the read goroutine.
	OnResult func(executor.Result)
}

// Client keeps one connection to a hub alive and mirrors its modules.
type Client struct {
	url      string
	dialer   *websocket.Dialer
	min, max time.Duration
	exec     *executor.Executor
	onResult func(executor.Result)
	log      zerolog.Logger

	mu   sync.Mutex
	peer *transport.Peer
}

func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("client: url is required")
	}
	c := &Client{
		url:      cfg.URL,
		dialer:   cfg.Dialer,
		min:      cfg.MinBackoff,
		max:      cfg.MaxBackoff,
		onResult: cfg.OnResult,
		log:      zerolog.Nop(),
	}
	if c.dialer == nil {
		c.dialer = websocket.DefaultDialer
	}
	if c.min <= 0 {
		c.min = defaultMinBackoff
	}
	if c.max < c.min {
		c.max = defaultMaxBackoff
	}
	if cfg.Logger != nil {
		c.log = cfg.Logger.With().Str("component", "client").Logger()
	}
	c.exec = executor.New(executor.Config{
		Context: cfg.Context,
		Console: c.forwardConsole,
		Timeout: cfg.Timeout,
		Logger:  cfg.Logger,
	})
	return c, nil
}

// Executor returns the executor modules run in.
func (c *Client) Executor() *executor.Executor { return c.exec }

// Run connects and reconnects with capped exponential backoff until ctx
// ends. Every reconnect starts from a clean executor and a fresh bootstrap.
func (c *Client) Run(ctx context.Context) error {
	backoff := c.min
	for {
		connected, err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			backoff = c.min
		}
		c.log.Warn().Err(err).Dur("retry_in", backoff).Msg("hub connection lost")
		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		backoff *= 2
		if backoff > c.max {
			backoff = c.max
		}
	}
}

// session runs one connection to completion and reports whether it was
// established.
func (c *Client) session(ctx context.Context) (bool, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", c.url, err)
	}
	p := transport.NewPeer(conn, transport.PeerOptions{RemoteAddr: c.url, Logger: &c.log})
	p.MarkOpen()
	p.Start()
	c.setPeer(p)
	stop := context.AfterFunc(ctx, p.Close)
	defer func() {
		stop()
		c.setPeer(nil)
		if n := c.exec.CleanupAll(); n > 0 {
			c.log.Info().Int("disposed", n).Msg("released resources after disconnect")
		}
	}()
	c.log.Info().Str("url", c.url).Msg("connected to hub")
	err = p.ReadLoop(func(data []byte) { c.handle(p, data) })
	if err == nil {
		err = errors.New("connection closed")
	}
	return true, err
}

func (c *Client) setPeer(p *transport.Peer) {
	c.mu.Lock()
	c.peer = p
	c.mu.Unlock()
}

func (c *Client) currentPeer() *transport.Peer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peer
}

func (c *Client) handle(p *transport.Peer, data []byte) {
	msg, err := protocol.DecodeHub(data)
	if err != nil {
		c.log.Warn().Err(err).Msg("ignoring hub message")
		return
	}
	switch m := msg.(type) {
	case protocol.Connected:
		c.log.Debug().Str("message", m.Message).Msg("hub greeting")
	case protocol.LoadModule:
		c.run(p, m.Name, m.CompiledText)
	case protocol.Execute:
		c.run(p, m.Name, m.CompiledText)
	case protocol.CleanupModule:
		n := c.exec.Cleanup(m.Name)
		c.log.Debug().Str("module", m.Name).Int("disposed", n).Msg("module cleaned up")
	}
}

func (c *Client) run(p *transport.Peer, name, compiled string) {
	res := c.exec.Execute(name, compiled)
	if c.onResult != nil {
		c.onResult(res)
	}
	if err := p.Send(protocol.NewExecutionResult(name, res.Err())); err != nil {
		c.log.Debug().Err(err).Msg("result not sent")
	}
}

// forwardConsole relays module console output to the hub. Output produced
// while disconnected is logged locally only.
func (c *Client) forwardConsole(level string, args []any) {
	c.log.Debug().Str("level", level).Interface("args", args).Msg("console")
	if p := c.currentPeer(); p != nil {
		_ = p.Send(protocol.NewConsoleLog(level, args))
	}
}
