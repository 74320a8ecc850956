package snippet

import (
	"strings"
	"sync"
	"testing"

	"github.com/evanw/esbuild/pkg/api"
)

func newTestCompiler(t *testing.T, cfg Config) *Compiler {
	t.Helper()
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("new compiler: %v", err)
	}
	return c
}

func TestCheck_PlainSnippet(t *testing.T) {
	c := newTestCompiler(t, Config{})
	res := c.Check("const a=1+1;")
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if len(res.Diagnostics) != 0 {
		t.Fatalf("expected no diagnostics, got %v", res.Diagnostics)
	}
	if !strings.HasPrefix(res.CompiledText, "const a=") {
		t.Fatalf("unexpected compiled text %q", res.CompiledText)
	}
}

func TestCheck_ImportStrippedEvenWhenUnused(t *testing.T) {
	c := newTestCompiler(t, Config{})
	res := c.Check("import {x} from 'y'; const a=1;")
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.CompiledText != "const a=1;" {
		t.Fatalf("compiled=%q", res.CompiledText)
	}
}

func TestCheck_UnparseableIsRejected(t *testing.T) {
	c := newTestCompiler(t, Config{})
	res := c.Check("functon broken(")
	if res.Success {
		t.Fatalf("expected failure")
	}
	if res.CompiledText != "" {
		t.Fatalf("expected no compiled text, got %q", res.CompiledText)
	}
	var structural bool
	for _, d := range res.Diagnostics {
		if d.Stage == StageLower && d.Severity == SeverityError {
			structural = true
		}
	}
	if !structural {
		t.Fatalf("expected a lower-stage error, got %v", res.Diagnostics)
	}
}

func TestLower_ReturnsStructuralError(t *testing.T) {
	c := newTestCompiler(t, Config{})
	_, err := c.Lower("let = ;")
	se, ok := err.(*StructuralError)
	if !ok {
		t.Fatalf("expected *StructuralError, got %T %v", err, err)
	}
	if len(se.Diagnostics) == 0 || se.Diagnostics[0].Line != 1 {
		t.Fatalf("unexpected diagnostics %v", se.Diagnostics)
	}
}

func TestCheck_ImportsNeverSurvive(t *testing.T) {
	c := newTestCompiler(t, Config{PreserveWhitespace: true})
	cases := []string{
		"import * as THREE from 'three';\nconst m = new THREE.Mesh();",
		"import 'side-effect';\nconsole.log(1);",
		"import type { Foo } from './types';\nconst f: Foo | null = null;",
		"import Default, { a, b as c } from \"lib\";\nconsole.log(1);",
		"import {\n  a,\n  b,\n} from 'multi';\nconsole.log(2);",
		"import {x} from 'y'; import {z} from 'w'; console.log(3);",
	}
	for _, src := range cases {
		res := c.Check(src)
		if !res.Success {
			t.Fatalf("%q: expected success, got %v", src, res.Diagnostics)
		}
		if strings.Contains(res.CompiledText, "import") {
			t.Fatalf("%q: import survived: %q", src, res.CompiledText)
		}
	}
	res := c.Check("import * as THREE from 'three';\nconst m = new THREE.Mesh();")
	if !strings.Contains(res.CompiledText, "new THREE.Mesh()") {
		t.Fatalf("ambient reference lost: %q", res.CompiledText)
	}
}

func TestCheck_TypeScriptIsLowered(t *testing.T) {
	c := newTestCompiler(t, Config{})
	res := c.Check("interface P { x: number }\nconst p: P = { x: 1 };\nenum E { A, B }")
	if !res.Success {
		t.Fatalf("expected success, got %v", res.Diagnostics)
	}
	if strings.Contains(res.CompiledText, "interface") || strings.Contains(res.CompiledText, ": P") {
		t.Fatalf("type syntax survived: %q", res.CompiledText)
	}
}

func TestTypecheck_LeniencyFiltersUnresolvedModules(t *testing.T) {
	src := "import { Mesh } from 'nonexistent';\nnew Mesh();"

	lenient := newTestCompiler(t, Config{})
	for _, d := range lenient.Typecheck(src) {
		if strings.Contains(d.Message, "Cannot find module") {
			t.Fatalf("benign diagnostic leaked: %v", d)
		}
	}

	strict := newTestCompiler(t, Config{Leniency: []LeniencyRule{}})
	var found bool
	for _, d := range strict.Typecheck(src) {
		if strings.Contains(d.Message, "Cannot find module") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected unresolved module diagnostic without leniency")
	}

	// Ambient module specifiers resolve cleanly.
	for _, d := range strict.Typecheck("import * as T from 'three';\nnew T.Mesh();") {
		if strings.Contains(d.Message, "three") {
			t.Fatalf("ambient module reported: %v", d)
		}
	}
}

func TestCheck_AdvisoryDiagnosticsNeverBlock(t *testing.T) {
	c := newTestCompiler(t, Config{Leniency: []LeniencyRule{}})
	res := c.Check("import { Mesh } from 'nope';\nnew Mesh();")
	if !res.Success || res.CompiledText != "new Mesh();" {
		t.Fatalf("advisory findings blocked compilation: %+v", res)
	}
	if len(res.Diagnostics) == 0 {
		t.Fatalf("expected the unresolved import to be reported")
	}
	for _, d := range res.Diagnostics {
		if d.Stage != StageTypecheck || d.Line > 1 {
			t.Fatalf("unexpected diagnostic %+v", d)
		}
	}
}

func TestFromMessages_OneBasedColumns(t *testing.T) {
	msgs := []api.Message{
		{Text: "positioned", Location: &api.Location{Line: 5, Column: 3}},
		{Text: "no position"},
	}
	got := fromMessages(msgs, SeverityWarning, StageTypecheck)
	if len(got) != 2 {
		t.Fatalf("expected 2 diagnostics, got %v", got)
	}
	if got[0].Line != 5 || got[0].Column != 4 || got[0].Message != "positioned" {
		t.Fatalf("unexpected position: %+v", got[0])
	}
	if got[1].Line != 0 || got[1].Column != 0 {
		t.Fatalf("unpositioned diagnostic gained a position: %+v", got[1])
	}
}

func TestTypecheck_ReportsLintFindingsAtSourceLines(t *testing.T) {
	c := newTestCompiler(t, Config{Leniency: []LeniencyRule{}})
	ds := c.Typecheck("const a = 1;\nconst o = {k: 1, k: 2};")
	var found bool
	for _, d := range ds {
		if strings.Contains(d.Message, `Duplicate key "k"`) {
			found = true
			if d.Line != 2 || d.Severity != SeverityWarning || d.Stage != StageTypecheck {
				t.Fatalf("unexpected diagnostic %+v", d)
			}
		}
	}
	if !found {
		t.Fatalf("duplicate key not reported: %v", ds)
	}
}

func TestPatternRule(t *testing.T) {
	r, err := PatternRule("dup", `^Duplicate key`)
	if err != nil {
		t.Fatalf("rule: %v", err)
	}
	kept, suppressed := applyLeniency([]Diagnostic{
		{Message: "Duplicate key \"a\" in object literal"},
		{Message: "something else"},
	}, []LeniencyRule{r})
	if len(kept) != 1 || suppressed["dup"] != 1 {
		t.Fatalf("kept=%v suppressed=%v", kept, suppressed)
	}
	if _, err := PatternRule("bad", "("); err == nil {
		t.Fatalf("expected error for invalid pattern")
	}
}

func TestNew_RejectsUnknownTarget(t *testing.T) {
	if _, err := New(Config{Target: "es3"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestCheck_ConcurrentCallsAreIndependent(t *testing.T) {
	c := newTestCompiler(t, Config{})
	var wg sync.WaitGroup
	errs := make(chan string, 32)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				if res := c.Check("const ok = 1;"); !res.Success {
					errs <- "good snippet failed"
				}
				return
			}
			if res := c.Check("functon broken("); res.Success {
				errs <- "bad snippet passed"
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for e := range errs {
		t.Fatal(e)
	}
}
