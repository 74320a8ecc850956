package hub

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"livehub/internal/snippet"
	"livehub/internal/store"
	"livehub/pkg/protocol"
)

// ReloadResult lists the module names a Reload changed.
type ReloadResult struct {
	Updated []string
	Removed []string
	// Sources that changed in the store but do not lower.
	Broken []string
}

// Reload re-reads the backing store and converges clients on it. Changed
// sources that lower are broadcast as execute, vanished ones as cleanup.
// Sources that do not lower are reported in Broken and change nothing.
// Modules pushed after the store was read are left alone.
func (h *Hub) Reload(ctx context.Context) (ReloadResult, error) {
	var (
		out     ReloadResult
		started = h.now()
		known   map[string]string
		err     error
	)
	if doErr := h.loop.Do(ctx, func() {
		if err = h.ensureLoaded(ctx); err != nil {
			return
		}
		known = make(map[string]string, len(h.modules))
		for name, m := range h.modules {
			known[name] = m.Hash
		}
	}); doErr != nil {
		return out, doErr
	}
	if err != nil {
		return out, err
	}

	srcs, err := h.store.List(ctx)
	if err != nil {
		return out, fmt.Errorf("hub: reload: %w", err)
	}
	type change struct {
		src  store.Source
		hash string
		res  snippet.Result
	}
	var changes []*change
	listed := make(map[string]bool, len(srcs))
	for _, src := range srcs {
		listed[src.Name] = true
		hash := sourceHash(src.Text)
		if known[src.Name] == hash {
			continue
		}
		changes = append(changes, &change{src: src, hash: hash})
	}
	var g errgroup.Group
	g.SetLimit(h.parallelism)
	for _, c := range changes {
		g.Go(func() error {
			c.res = h.compiler.Check(c.src.Text)
			return nil
		})
	}
	_ = g.Wait()

	if doErr := h.loop.Do(ctx, func() {
		for _, c := range changes {
			m, ok := h.modules[c.src.Name]
			if ok && m.UpdatedAt.After(started) {
				continue
			}
			if !c.res.Success {
				// The registry keeps serving the last version that lowered.
				if ok {
					m.LastDiagnostics = c.res.Diagnostics
				}
				out.Broken = append(out.Broken, c.src.Name)
				continue
			}
			if !ok {
				m = &Module{Name: c.src.Name}
				h.modules[c.src.Name] = m
			}
			m.Source = c.src.Text
			m.Hash = c.hash
			m.UpdatedAt = c.src.UpdatedAt
			m.applyCompile(c.res)
			h.broadcast(protocol.NewExecute(m.Name, m.CompiledText))
			out.Updated = append(out.Updated, m.Name)
		}
		for _, m := range h.sortedModules() {
			if listed[m.Name] || m.UpdatedAt.After(started) {
				continue
			}
			delete(h.modules, m.Name)
			h.broadcast(protocol.NewCleanupModule(m.Name))
			h.pub.Publish(Event{Name: EventModuleRemoved, Module: m.Name, Fields: map[string]any{"reason": "reload"}})
			out.Removed = append(out.Removed, m.Name)
		}
	}); doErr != nil {
		return out, doErr
	}
	h.log.Info().Int("updated", len(out.Updated)).Int("removed", len(out.Removed)).Int("broken", len(out.Broken)).Msg("registry reloaded")
	return out, nil
}

// Sweep removes modules not pushed within the configured TTL and returns how
// many it removed. A zero TTL disables expiry.
func (h *Hub) Sweep(ctx context.Context) (int, error) {
	if h.ttl <= 0 {
		return 0, nil
	}
	var (
		n   int
		err error
	)
	if doErr := h.loop.Do(ctx, func() {
		if err = h.ensureLoaded(ctx); err != nil {
			return
		}
		cutoff := h.now().Add(-h.ttl)
		for _, m := range h.sortedModules() {
			if !m.UpdatedAt.Before(cutoff) {
				continue
			}
			if derr := h.store.Delete(ctx, m.Name); derr != nil && !errors.Is(derr, store.ErrNotFound) {
				h.log.Warn().Err(derr).Str("module", m.Name).Msg("expire: store delete failed")
				continue
			}
			delete(h.modules, m.Name)
			h.broadcast(protocol.NewCleanupModule(m.Name))
			h.pub.Publish(Event{Name: EventModuleRemoved, Module: m.Name, Fields: map[string]any{"reason": "ttl"}})
			n++
		}
	}); doErr != nil {
		return 0, doErr
	}
	if n > 0 {
		h.log.Info().Int("expired", n).Dur("ttl", h.ttl).Msg("modules expired")
	}
	return n, err
}
