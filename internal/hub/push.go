package hub

import (
	"context"
	"errors"
	"fmt"

	"livehub/internal/snippet"
	"livehub/internal/store"
	"livehub/pkg/protocol"
)

// PushResult is the outcome of Push.
type PushResult struct {
	// False when the source could not be lowered; nothing was applied.
	Success      bool
	Diagnostics  []snippet.Diagnostic
	CompiledText string
	// Connections the execute message was enqueued on.
	Delivered int
}

// RemoveResult is the outcome of Remove.
type RemoveResult struct {
	Existed   bool
	Delivered int
}

func validateName(name string) error {
	if err := store.ValidateName(name); err != nil {
		return invalidNameError{cause: err}
	}
	return nil
}

// Push compiles source and, if it lowers, stores it under name and tells
// every client to execute it. A source that fails to lower changes nothing.
func (h *Hub) Push(ctx context.Context, name, source string) (PushResult, error) {
	if err := validateName(name); err != nil {
		return PushResult{}, err
	}
	res := h.compiler.Check(source)
	out := PushResult{Success: res.Success, Diagnostics: res.Diagnostics, CompiledText: res.CompiledText}

	if !res.Success {
		pushesTotal.WithLabelValues("rejected").Inc()
		h.log.Info().Str("module", name).Int("diagnostics", len(res.Diagnostics)).Msg("push rejected")
		_ = h.loop.Do(ctx, func() {
			h.pub.Publish(Event{Name: EventPushRejected, Module: name, Fields: map[string]any{"diagnostics": len(res.Diagnostics)}})
		})
		return out, nil
	}
	if len(res.Diagnostics) > 0 {
		h.log.Warn().Str("module", name).Int("diagnostics", len(res.Diagnostics)).Msg("push accepted with type diagnostics")
	}

	var err error
	if doErr := h.loop.Do(ctx, func() {
		if err = h.ensureLoaded(ctx); err != nil {
			return
		}
		at := h.now()
		if err = h.store.Put(ctx, store.Source{Name: name, Text: source, UpdatedAt: at}); err != nil {
			err = fmt.Errorf("hub: store module %s: %w", name, err)
			return
		}
		m, ok := h.modules[name]
		if !ok {
			m = &Module{Name: name}
			h.modules[name] = m
		}
		m.Source = source
		m.Hash = sourceHash(source)
		m.UpdatedAt = at
		m.applyCompile(res)

		out.Delivered = h.broadcast(protocol.NewExecute(name, res.CompiledText))
		h.pub.Publish(Event{Name: EventPushAccepted, Module: name, Fields: map[string]any{"delivered": out.Delivered, "hash": m.Hash}})
	}); doErr != nil {
		return PushResult{}, doErr
	}
	if err != nil {
		pushesTotal.WithLabelValues("error").Inc()
		return PushResult{}, err
	}
	pushesTotal.WithLabelValues("accepted").Inc()
	h.log.Info().Str("module", name).Int("delivered", out.Delivered).Msg("module pushed")
	return out, nil
}

// Remove deletes a module and tells every client to dispose of it. The
// cleanup is broadcast even when the hub does not know the name, since a
// client may still hold resources from an earlier hub process.
func (h *Hub) Remove(ctx context.Context, name string) (RemoveResult, error) {
	if err := validateName(name); err != nil {
		return RemoveResult{}, err
	}
	var (
		out RemoveResult
		err error
	)
	if doErr := h.loop.Do(ctx, func() {
		if err = h.ensureLoaded(ctx); err != nil {
			return
		}
		if derr := h.store.Delete(ctx, name); derr != nil && !errors.Is(derr, store.ErrNotFound) {
			err = fmt.Errorf("hub: delete module %s: %w", name, derr)
			return
		}
		_, out.Existed = h.modules[name]
		delete(h.modules, name)
		out.Delivered = h.broadcast(protocol.NewCleanupModule(name))
		if out.Existed {
			h.pub.Publish(Event{Name: EventModuleRemoved, Module: name, Fields: map[string]any{"delivered": out.Delivered}})
		}
	}); doErr != nil {
		return RemoveResult{}, doErr
	}
	if err != nil {
		return RemoveResult{}, err
	}
	h.log.Info().Str("module", name).Bool("existed", out.Existed).Int("delivered", out.Delivered).Msg("module removed")
	return out, nil
}

// Broadcast sends msg to every open connection and returns how many it
// reached.
func (h *Hub) Broadcast(ctx context.Context, msg protocol.HubMessage) (int, error) {
	var n int
	err := h.loop.Do(ctx, func() { n = h.broadcast(msg) })
	return n, err
}
