package hub

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"livehub/internal/store"
	"livehub/internal/transport"
	"livehub/pkg/protocol"
)

// Hub distributes compiled modules to live clients.
type Hub struct {
	loop   *transport.Loop
	closed atomic.Bool

	// owned by the loop
	peers   *transport.Set
	modules map[string]*Module
	loaded  bool

	compiler    Compiler
	store       store.Store
	pub         EventPublisher
	log         zerolog.Logger
	parallelism int
	ttl         time.Duration
	greeting    string
	now         func() time.Time
}

// New constructs a Hub and starts its event loop.
func New(cfg Config) (*Hub, error) {
	if cfg.Compiler == nil {
		return nil, fmt.Errorf("hub: compiler is required")
	}
	h := &Hub{
		loop:        transport.NewLoop(),
		peers:       transport.NewSet(),
		modules:     make(map[string]*Module),
		compiler:    cfg.Compiler,
		store:       cfg.Store,
		pub:         cfg.Publisher,
		log:         zerolog.Nop(),
		parallelism: cfg.BootstrapParallelism,
		ttl:         cfg.ModuleTTL,
		greeting:    cfg.Greeting,
		now:         cfg.Now,
	}
	if h.store == nil {
		h.store = store.NewMemoryStore()
	}
	if h.pub == nil {
		h.pub = noopPublisher{}
	}
	if cfg.Logger != nil {
		h.log = cfg.Logger.With().Str("component", "hub").Logger()
	}
	if h.parallelism <= 0 {
		h.parallelism = defaultBootstrapParallelism
	}
	if h.greeting == "" {
		h.greeting = defaultGreeting
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h, nil
}

// SetEventPublisher swaps the lifecycle event sink.
func (h *Hub) SetEventPublisher(p EventPublisher) {
	_ = h.loop.Do(context.Background(), func() {
		if p == nil {
			p = noopPublisher{}
		}
		h.pub = p
	})
}

// ensureLoaded reads the backing store the first time the registry is needed.
func (h *Hub) ensureLoaded(ctx context.Context) error {
	if h.loaded {
		return nil
	}
	srcs, err := h.store.List(ctx)
	if err != nil {
		return fmt.Errorf("hub: load modules: %w", err)
	}
	for _, src := range srcs {
		h.modules[src.Name] = &Module{
			Name:      src.Name,
			Source:    src.Text,
			Hash:      sourceHash(src.Text),
			UpdatedAt: src.UpdatedAt,
		}
	}
	h.loaded = true
	h.log.Info().Int("modules", len(srcs)).Msg("registry loaded from store")
	return nil
}

// send enqueues a message on one peer. Loop only.
func (h *Hub) send(p *transport.Peer, m protocol.HubMessage) error {
	if err := p.Send(m); err != nil {
		return err
	}
	messagesTotal.WithLabelValues(string(m.Kind())).Inc()
	return nil
}

// broadcast enqueues a message on every peer and prunes closed ones. Loop only.
func (h *Hub) broadcast(m protocol.HubMessage) int {
	b, err := protocol.Encode(m)
	if err != nil {
		h.log.Error().Err(err).Str("action", string(m.Kind())).Msg("encode failed")
		return 0
	}
	delivered, pruned := h.peers.Broadcast(b)
	for _, p := range pruned {
		prunedTotal.Inc()
		h.forget(p, "pruned")
	}
	messagesTotal.WithLabelValues(string(m.Kind())).Add(float64(delivered))
	return delivered
}

// forget drops bookkeeping for a peer already removed from the set. Loop only.
func (h *Hub) forget(p *transport.Peer, reason string) {
	connectionsGauge.Set(float64(h.peers.Len()))
	h.log.Info().Str("conn", p.ID()).Str("reason", reason).Dur("lifetime", time.Since(p.OpenedAt())).Msg("client disconnected")
	h.pub.Publish(Event{Name: EventDisconnect, Fields: map[string]any{"conn": p.ID(), "reason": reason}})
}

// Attach registers a connection, sends the handshake and replays every
// current module to it alone.
func (h *Hub) Attach(ctx context.Context, p *transport.Peer) error {
	var err error
	if doErr := h.loop.Do(ctx, func() { err = h.attach(ctx, p) }); doErr != nil {
		return doErr
	}
	return err
}

func (h *Hub) attach(ctx context.Context, p *transport.Peer) error {
	if !p.MarkOpen() {
		return transport.ErrClosed
	}
	h.peers.Add(p)
	connectionsGauge.Set(float64(h.peers.Len()))
	h.log.Info().Str("conn", p.ID()).Str("remote", p.RemoteAddr()).Msg("client connected")
	h.pub.Publish(Event{Name: EventConnect, Fields: map[string]any{"conn": p.ID()}})

	if err := h.send(p, protocol.NewConnected(h.greeting)); err != nil {
		return err
	}
	if err := h.ensureLoaded(ctx); err != nil {
		// the client stays attached and will receive future pushes
		h.log.Error().Err(err).Str("conn", p.ID()).Msg("bootstrap skipped")
		return nil
	}
	h.bootstrap(p)
	return nil
}

// Serve runs a connection to completion: attach, read until the socket
// closes, detach.
func (h *Hub) Serve(ctx context.Context, p *transport.Peer) error {
	if err := h.Attach(ctx, p); err != nil {
		p.Close()
		return err
	}
	p.Start()
	err := p.ReadLoop(func(b []byte) { h.HandleInbound(p, b) })
	h.Detach(p)
	return err
}

// Detach removes a connection and closes it.
func (h *Hub) Detach(p *transport.Peer) {
	p.Close()
	_ = h.loop.Do(context.Background(), func() {
		if !h.peers.Has(p) {
			return
		}
		h.peers.Remove(p)
		h.forget(p, "closed")
	})
}

// Connections returns the number of registered connections.
func (h *Hub) Connections(ctx context.Context) (int, error) {
	var n int
	err := h.loop.Do(ctx, func() { n = h.peers.Len() })
	return n, err
}

// Ready reports whether the hub accepts work.
func (h *Hub) Ready() bool { return !h.closed.Load() }

// Close disconnects every client and stops the loop. Idempotent.
func (h *Hub) Close() error {
	if h.closed.Swap(true) {
		return nil
	}
	err := h.loop.Do(context.Background(), func() {
		h.peers.CloseAll()
		connectionsGauge.Set(0)
	})
	h.loop.Close()
	if err != nil && !errors.Is(err, transport.ErrLoopClosed) {
		return err
	}
	return nil
}
