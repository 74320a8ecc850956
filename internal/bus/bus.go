// Package bus fans agent progress events out to every connected observer.
// It keeps no history: a late subscriber sees only events published after it
// attached.
package bus

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/rs/zerolog"

	"livehub/internal/transport"
	"livehub/pkg/protocol"
)

const defaultGreeting = "livehub events connected"

// Config tunes a Bus.
type Config struct {
	Greeting string
	Logger   *zerolog.Logger
}

// Bus is a broadcast-only event channel.
type Bus struct {
	loop     *transport.Loop
	peers    *transport.Set
	greeting string
	log      zerolog.Logger
	closed   atomic.Bool
	seq      atomic.Uint64
}

func New(cfg Config) *Bus {
	b := &Bus{
		loop:     transport.NewLoop(),
		peers:    transport.NewSet(),
		greeting: cfg.Greeting,
		log:      zerolog.Nop(),
	}
	if b.greeting == "" {
		b.greeting = defaultGreeting
	}
	if cfg.Logger != nil {
		b.log = cfg.Logger.With().Str("component", "bus").Logger()
	}
	return b
}

// Attach registers p and greets it.
func (b *Bus) Attach(ctx context.Context, p *transport.Peer) error {
	var err error
	if doErr := b.loop.Do(ctx, func() {
		if !p.MarkOpen() {
			err = transport.ErrClosed
			return
		}
		b.peers.Add(p)
		connectionsGauge.Set(float64(b.peers.Len()))
		err = b.send(p, protocol.NewConnected(b.greeting))
	}); doErr != nil {
		return doErr
	}
	if err == nil {
		b.log.Info().Str("conn", p.ID()).Str("remote", p.RemoteAddr()).Msg("observer connected")
	}
	return err
}

// Serve attaches p, drains its inbound side until the socket closes and then
// detaches it. Observers have nothing to say; inbound messages are dropped.
func (b *Bus) Serve(ctx context.Context, p *transport.Peer) error {
	if err := b.Attach(ctx, p); err != nil {
		p.Close()
		return err
	}
	p.Start()
	err := p.ReadLoop(func(data []byte) {
		b.log.Debug().Str("conn", p.ID()).Int("bytes", len(data)).Msg("ignoring observer message")
	})
	b.Detach(p)
	return err
}

// Detach removes and closes p.
func (b *Bus) Detach(p *transport.Peer) {
	p.Close()
	_ = b.loop.Do(context.Background(), func() {
		if !b.peers.Has(p) {
			return
		}
		b.peers.Remove(p)
		connectionsGauge.Set(float64(b.peers.Len()))
		b.log.Info().Str("conn", p.ID()).Msg("observer disconnected")
	})
}

func (b *Bus) send(p *transport.Peer, ev protocol.BusEvent) error {
	if err := p.Send(ev); err != nil {
		return err
	}
	eventsTotal.WithLabelValues(string(ev.Kind())).Inc()
	return nil
}

// Send delivers ev to a single attached peer.
func (b *Bus) Send(ctx context.Context, p *transport.Peer, ev protocol.BusEvent) error {
	var err error
	if doErr := b.loop.Do(ctx, func() {
		if !b.peers.Has(p) {
			err = transport.ErrClosed
			return
		}
		err = b.send(p, ev)
	}); doErr != nil {
		return doErr
	}
	return err
}

// Broadcast delivers ev to every attached peer and returns how many it
// reached. Events from one caller reach each peer in call order.
func (b *Bus) Broadcast(ctx context.Context, ev protocol.BusEvent) (int, error) {
	data, err := protocol.Encode(ev)
	if err != nil {
		return 0, err
	}
	var n int
	if doErr := b.loop.Do(ctx, func() {
		var pruned []*transport.Peer
		n, pruned = b.peers.Broadcast(data)
		for _, p := range pruned {
			prunedTotal.Inc()
			b.log.Info().Str("conn", p.ID()).Msg("observer pruned")
		}
		if len(pruned) > 0 {
			connectionsGauge.Set(float64(b.peers.Len()))
		}
		eventsTotal.WithLabelValues(string(ev.Kind())).Add(float64(n))
	}); doErr != nil {
		return 0, doErr
	}
	return n, nil
}

// Connections returns the number of attached peers.
func (b *Bus) Connections(ctx context.Context) (int, error) {
	var n int
	err := b.loop.Do(ctx, func() { n = b.peers.Len() })
	return n, err
}

// Ready reports whether the bus accepts work.
func (b *Bus) Ready() bool { return !b.closed.Load() }

// Close disconnects every peer and stops the loop. Idempotent.
func (b *Bus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	err := b.loop.Do(context.Background(), func() {
		b.peers.CloseAll()
		connectionsGauge.Set(0)
	})
	b.loop.Close()
	if err != nil && !errors.Is(err, transport.ErrLoopClosed) {
		return err
	}
	return nil
}
