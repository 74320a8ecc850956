package snippet

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/rs/zerolog"
)

const sourcefile = "snippet.ts"

// DefaultAmbientModules are module specifiers whose bindings the runtime
// provides as globals.
var DefaultAmbientModules = []string{"three"}

// Config tunes a Compiler. Zero values select the defaults.
type Config struct {
	// Module specifiers the runtime satisfies; treated as external.
	AmbientModules []string
	// Findings matching any rule are dropped from type-check output.
	// Nil selects DefaultLeniency.
	Leniency []LeniencyRule
	// ECMAScript level of compiled output (es2015..es2022, esnext).
	Target string
	// Keep esbuild's readable formatting instead of minified whitespace.
	PreserveWhitespace bool
	Logger             *zerolog.Logger
}

// Result is the outcome of Check.
type Result struct {
	// False only when lowering failed; CompiledText is then empty.
	Success      bool
	Diagnostics  []Diagnostic
	CompiledText string
}

// Compiler type-checks and lowers snippets. It holds no per-call state.
type Compiler struct {
	target  api.Target
	minify  bool
	modules map[string]bool
	rules   []LeniencyRule
	log     zerolog.Logger
}

var targets = map[string]api.Target{
	"es2015": api.ES2015,
	"es2016": api.ES2016,
	"es2017": api.ES2017,
	"es2018": api.ES2018,
	"es2019": api.ES2019,
	"es2020": api.ES2020,
	"es2021": api.ES2021,
	"es2022": api.ES2022,
	"esnext": api.ESNext,
}

// New builds a Compiler from cfg.
func New(cfg Config) (*Compiler, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Target))
	if name == "" {
		name = "es2017"
	}
	target, ok := targets[name]
	if !ok {
		return nil, fmt.Errorf("snippet: unsupported target %q", cfg.Target)
	}
	mods := cfg.AmbientModules
	if mods == nil {
		mods = DefaultAmbientModules
	}
	rules := cfg.Leniency
	if rules == nil {
		rules = DefaultLeniency()
	}
	c := &Compiler{
		target:  target,
		minify:  !cfg.PreserveWhitespace,
		modules: make(map[string]bool, len(mods)),
		rules:   rules,
		log:     zerolog.Nop(),
	}
	for _, m := range mods {
		c.modules[m] = true
	}
	if cfg.Logger != nil {
		c.log = cfg.Logger.With().Str("component", "snippet").Logger()
	}
	return c, nil
}

// MustNew is New for static configurations.
func MustNew(cfg Config) *Compiler {
	c, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return c
}

// ambientResolver marks runtime-provided specifiers external and reports
// every other specifier as unresolved.
func (c *Compiler) ambientResolver() api.Plugin {
	return api.Plugin{
		Name: "ambient",
		Setup: func(build api.PluginBuild) {
			build.OnResolve(api.OnResolveOptions{Filter: ".*"}, func(args api.OnResolveArgs) (api.OnResolveResult, error) {
				res := api.OnResolveResult{Path: args.Path, External: true}
				if !c.modules[args.Path] {
					res.Errors = []api.Message{{Text: fmt.Sprintf("Cannot find module %q", args.Path)}}
				}
				return res, nil
			})
		},
	}
}

// Typecheck runs the advisory pass and returns findings that survive the
// leniency rules. It never fails. The pass is an esbuild bundle: it reports
// syntax errors, unresolvable imports and esbuild's lint warnings such as
// duplicate keys or assignments to constants. It does not check types.
func (c *Compiler) Typecheck(source string) []Diagnostic {
	res := api.Build(api.BuildOptions{
		Stdin: &api.StdinOptions{
			Contents:   source,
			Sourcefile: sourcefile,
			Loader:     api.LoaderTS,
		},
		Bundle:   true,
		Write:    false,
		LogLevel: api.LogLevelSilent,
		Platform: api.PlatformNeutral,
		Format:   api.FormatESModule,
		Target:   c.target,
		Plugins:  []api.Plugin{c.ambientResolver()},
	})
	all := merge(
		fromMessages(res.Errors, SeverityError, StageTypecheck),
		fromMessages(res.Warnings, SeverityWarning, StageTypecheck),
	)
	kept, suppressed := applyLeniency(all, c.rules)
	if len(suppressed) > 0 {
		ev := c.log.Debug()
		for name, n := range suppressed {
			ev = ev.Int(name, n)
		}
		ev.Msg("suppressed benign diagnostics")
	}
	return kept
}

// Lower strips import declarations and transpiles the rest into a bare
// statement sequence. The only error it returns is *StructuralError.
func (c *Compiler) Lower(source string) (string, error) {
	res := api.Transform(StripImports(source), api.TransformOptions{
		Loader:           api.LoaderTS,
		Sourcefile:       sourcefile,
		Target:           c.target,
		MinifyWhitespace: c.minify,
		LogLevel:         api.LogLevelSilent,
	})
	if len(res.Errors) > 0 {
		return "", &StructuralError{Diagnostics: fromMessages(res.Errors, SeverityError, StageLower)}
	}
	return strings.TrimSpace(string(res.Code)), nil
}

// Check type-checks and lowers source. Type findings never affect Success.
func (c *Compiler) Check(source string) Result {
	start := time.Now()
	advisory := c.Typecheck(source)
	compiled, err := c.Lower(source)
	outcome := "ok"
	defer func() {
		compileDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}()
	if err != nil {
		outcome = "structural_error"
		var se *StructuralError
		if errors.As(err, &se) {
			return Result{Success: false, Diagnostics: merge(se.Diagnostics, advisory)}
		}
		return Result{Success: false, Diagnostics: []Diagnostic{{Message: err.Error(), Severity: SeverityError, Stage: StageLower}}}
	}
	if len(advisory) > 0 {
		outcome = "advisory"
		c.log.Debug().Int("diagnostics", len(advisory)).Msg("snippet compiled with advisory diagnostics")
	}
	return Result{Success: true, Diagnostics: advisory, CompiledText: compiled}
}
