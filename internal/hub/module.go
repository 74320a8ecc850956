package hub

import (
	"context"
	"encoding/hex"
	"sort"
	"time"

	"github.com/zeebo/blake3"

	"livehub/internal/snippet"
	"livehub/pkg/protocol"
)

// Module is one registry entry.
type Module struct {
	Name   string
	Source string
	// blake3 hex digest of Source.
	Hash string
	// Last successfully lowered form; empty until first compiled.
	CompiledText    string
	LastDiagnostics []snippet.Diagnostic
	UpdatedAt       time.Time

	// Hash of the source CompiledText was produced from, and of the last
	// source that failed to lower.
	compiledHash string
	brokenHash   string
}

func sourceHash(src string) string {
	sum := blake3.Sum256([]byte(src))
	return hex.EncodeToString(sum[:])
}

func (m *Module) info() protocol.ModuleInfo {
	return protocol.ModuleInfo{
		Name:        m.Name,
		Hash:        m.Hash,
		UpdatedAt:   m.UpdatedAt.UnixMilli(),
		Compiled:    m.CompiledText != "",
		Diagnostics: len(m.LastDiagnostics),
	}
}

// Detail returns the HTTP projection of a module.
func (m Module) Detail() protocol.ModuleDetail {
	return protocol.ModuleDetail{
		ModuleInfo:   m.info(),
		Source:       m.Source,
		CompiledText: m.CompiledText,
		LastDiags:    snippet.WireAll(m.LastDiagnostics),
	}
}

// applyCompile records a successful compile. Failed compiles never reach here,
// so CompiledText only ever holds output of a clean lowering.
func (m *Module) applyCompile(res snippet.Result) {
	m.CompiledText = res.CompiledText
	m.LastDiagnostics = res.Diagnostics
	m.compiledHash = m.Hash
	m.brokenHash = ""
}

func (m *Module) fresh() bool { return m.CompiledText != "" && m.compiledHash == m.Hash }

func (h *Hub) sortedModules() []*Module {
	out := make([]*Module, 0, len(h.modules))
	for _, m := range h.modules {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Modules lists the registry ordered by name.
func (h *Hub) Modules(ctx context.Context) ([]protocol.ModuleInfo, error) {
	var (
		out []protocol.ModuleInfo
		err error
	)
	if doErr := h.loop.Do(ctx, func() {
		if err = h.ensureLoaded(ctx); err != nil {
			return
		}
		out = make([]protocol.ModuleInfo, 0, len(h.modules))
		for _, m := range h.sortedModules() {
			out = append(out, m.info())
		}
	}); doErr != nil {
		return nil, doErr
	}
	return out, err
}

// Get returns a copy of one module.
func (h *Hub) Get(ctx context.Context, name string) (Module, error) {
	var (
		out Module
		err error
	)
	if doErr := h.loop.Do(ctx, func() {
		if err = h.ensureLoaded(ctx); err != nil {
			return
		}
		m, ok := h.modules[name]
		if !ok {
			err = ErrModuleNotFound(name)
			return
		}
		out = *m
		out.LastDiagnostics = append([]snippet.Diagnostic(nil), m.LastDiagnostics...)
	}); doErr != nil {
		return Module{}, doErr
	}
	return out, err
}
