package hub

import (
	"context"

	"livehub/internal/transport"
	"livehub/pkg/protocol"
)

// HandleInbound records a message a client sent. Clients only report; the
// hub never acts on their content.
func (h *Hub) HandleInbound(p *transport.Peer, data []byte) {
	msg, err := protocol.DecodeClient(data)
	if err != nil {
		clientReportsTotal.WithLabelValues("unknown", "malformed").Inc()
		h.log.Debug().Err(err).Str("conn", p.ID()).Int("bytes", len(data)).Msg("ignoring client message")
		return
	}
	switch m := msg.(type) {
	case protocol.ExecutionResult:
		outcome := "ok"
		ev := h.log.Debug()
		if !m.Success {
			outcome = "error"
			ev = h.log.Warn().Str("error", m.Error)
		}
		clientReportsTotal.WithLabelValues(string(m.Action), outcome).Inc()
		ev.Str("conn", p.ID()).Str("module", m.Name).Bool("success", m.Success).Msg("client execution result")
		h.publishReport(p, m.Name, map[string]any{"success": m.Success, "error": m.Error})
	case protocol.ConsoleLog:
		clientReportsTotal.WithLabelValues(string(m.Action), m.Level).Inc()
		h.log.Debug().Str("conn", p.ID()).Str("level", m.Level).Interface("args", m.Args).Msg("client console")
	}
}

func (h *Hub) publishReport(p *transport.Peer, module string, fields map[string]any) {
	fields["conn"] = p.ID()
	if h.closed.Load() {
		return
	}
	_ = h.loop.Do(context.Background(), func() {
		h.pub.Publish(Event{Name: EventClientReported, Module: module, Fields: fields})
	})
}
