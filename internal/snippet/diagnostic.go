package snippet

import (
	"fmt"
	"sort"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"livehub/pkg/protocol"
)

// Severity of a Diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Stage that produced a Diagnostic.
type Stage string

const (
	StageTypecheck Stage = "typecheck"
	StageLower     Stage = "lower"
)

// Diagnostic is one compiler finding. Line and Column are 1-based and
// relative to the submitted source; zero means no position.
type Diagnostic struct {
	Line     int
	Column   int
	Message  string
	Severity Severity
	Stage    Stage
}

func (d Diagnostic) String() string {
	if d.Line > 0 {
		return fmt.Sprintf("%d:%d: %s: %s", d.Line, d.Column, d.Severity, d.Message)
	}
	return fmt.Sprintf("%s: %s", d.Severity, d.Message)
}

// Wire converts to the HTTP payload shape.
func (d Diagnostic) Wire() protocol.Diagnostic {
	return protocol.Diagnostic{
		Line:     d.Line,
		Column:   d.Column,
		Message:  d.Message,
		Severity: string(d.Severity),
		Source:   string(d.Stage),
	}
}

// WireAll converts a slice, never returning nil.
func WireAll(ds []Diagnostic) []protocol.Diagnostic {
	out := make([]protocol.Diagnostic, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.Wire())
	}
	return out
}

// StructuralError is returned by Lower when the source cannot be parsed.
type StructuralError struct {
	Diagnostics []Diagnostic
}

func (e *StructuralError) Error() string {
	if len(e.Diagnostics) == 0 {
		return "snippet: structural compile error"
	}
	parts := make([]string, 0, len(e.Diagnostics))
	for _, d := range e.Diagnostics {
		parts = append(parts, d.String())
	}
	return "snippet: " + strings.Join(parts, "; ")
}

// fromMessages converts esbuild messages. Columns become 1-based.
func fromMessages(msgs []api.Message, sev Severity, stage Stage) []Diagnostic {
	var out []Diagnostic
	for _, m := range msgs {
		d := Diagnostic{Message: m.Text, Severity: sev, Stage: stage}
		if loc := m.Location; loc != nil {
			d.Line = loc.Line
			d.Column = loc.Column + 1
		}
		out = append(out, d)
	}
	return out
}

// merge concatenates diagnostic sets, dropping exact duplicates and sorting
// by position.
func merge(sets ...[]Diagnostic) []Diagnostic {
	type key struct {
		line, col int
		msg       string
	}
	seen := make(map[key]bool)
	var out []Diagnostic
	for _, set := range sets {
		for _, d := range set {
			k := key{d.Line, d.Column, d.Message}
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Line != out[j].Line {
			return out[i].Line < out[j].Line
		}
		return out[i].Column < out[j].Column
	})
	return out
}
