package hub

import (
	"golang.org/x/sync/errgroup"

	"livehub/internal/snippet"
	"livehub/internal/transport"
	"livehub/pkg/protocol"
)

type compileJob struct {
	mod    *Module
	source string
	res    snippet.Result
}

// bootstrap replays the registry to one newly attached peer. Modules whose
// cached output is stale are compiled in parallel; messages are then sent in
// name order. Loop only, so no broadcast can interleave with the replay.
func (h *Hub) bootstrap(p *transport.Peer) {
	mods := h.sortedModules()

	var jobs []*compileJob
	for _, m := range mods {
		if m.fresh() || m.brokenHash == m.Hash {
			continue
		}
		jobs = append(jobs, &compileJob{mod: m, source: m.Source})
	}
	if len(jobs) > 0 {
		var g errgroup.Group
		g.SetLimit(h.parallelism)
		for _, j := range jobs {
			g.Go(func() error {
				j.res = h.compiler.Check(j.source)
				return nil
			})
		}
		_ = g.Wait()
		for _, j := range jobs {
			if j.res.Success {
				j.mod.applyCompile(j.res)
				continue
			}
			j.mod.brokenHash = j.mod.Hash
			j.mod.LastDiagnostics = j.res.Diagnostics
		}
	}

	sent := 0
	for _, m := range mods {
		if !m.fresh() {
			h.log.Warn().Str("conn", p.ID()).Str("module", m.Name).Int("diagnostics", len(m.LastDiagnostics)).Msg("module does not compile; skipped in bootstrap")
			h.pub.Publish(Event{Name: EventBootstrapSkip, Module: m.Name, Fields: map[string]any{"conn": p.ID()}})
			continue
		}
		if err := h.send(p, protocol.NewLoadModule(m.Name, m.CompiledText)); err != nil {
			h.log.Warn().Err(err).Str("conn", p.ID()).Msg("bootstrap aborted")
			return
		}
		sent++
	}
	h.log.Debug().Str("conn", p.ID()).Int("modules", sent).Int("compiled", len(jobs)).Msg("bootstrap complete")
}
