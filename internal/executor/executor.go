// Package executor runs compiled module text inside a goja JavaScript runtime
// and keeps at most one live generation of resources per module name.
package executor

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/rs/zerolog"
)

// ErrTimeout is reported when module code runs longer than Config.Timeout.
var ErrTimeout = errors.New("execution timed out")

// ExecutionContext supplies the ambient globals bound before every run.
type ExecutionContext interface {
	Globals() map[string]any
}

// StaticContext is an ExecutionContext over a fixed set of globals.
type StaticContext map[string]any

func (c StaticContext) Globals() map[string]any { return c }

// ConsoleFunc receives console output produced by module code.
type ConsoleFunc func(level string, args []any)

// Config tunes an Executor.
type Config struct {
	Context ExecutionContext
	Console ConsoleFunc
	// Zero disables the limit.
	Timeout time.Duration
	Logger  *zerolog.Logger
}

// Result reports one Execute call.
type Result struct {
	Name    string
	Success bool
	Error   string
	// Resources of the previous generation released before running.
	Disposed int
	// Resources registered by this run.
	Tracked  int
	Duration time.Duration
}

// Err returns the failure as an error, or nil.
func (r Result) Err() error {
	if r.Success {
		return nil
	}
	return errors.New(r.Error)
}

// Executor owns one goja runtime. All access is serialized by mu since a
// runtime is not safe for concurrent use.
type Executor struct {
	mu       sync.Mutex
	rt       *goja.Runtime
	ctx      ExecutionContext
	console  ConsoleFunc
	timeout  time.Duration
	trackers map[string]*ResourceTracker
	log      zerolog.Logger
}

// New constructs an Executor with a fresh runtime.
func New(cfg Config) *Executor {
	e := &Executor{
		rt:       goja.New(),
		ctx:      cfg.Context,
		console:  cfg.Console,
		timeout:  cfg.Timeout,
		trackers: make(map[string]*ResourceTracker),
		log:      zerolog.Nop(),
	}
	if cfg.Logger != nil {
		e.log = cfg.Logger.With().Str("component", "executor").Logger()
	}
	e.bindConsole()
	return e
}

// Execute releases the resources of the previous generation of name and then
// runs compiled. Failures of any kind are reported in the Result.
func (e *Executor) Execute(name, compiled string) (res Result) {
	start := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	res = Result{Name: name, Disposed: e.cleanupLocked(name)}
	tr := NewResourceTracker(e.log.With().Str("module", name).Logger())
	e.trackers[name] = tr
	defer func() {
		res.Tracked = tr.Len()
		res.Duration = time.Since(start)
	}()

	if err := e.run(name, compiled, tr); err != nil {
		res.Error = err.Error()
		e.log.Warn().Str("module", name).Err(err).Msg("module execution failed")
		return res
	}
	res.Success = true
	e.log.Debug().Str("module", name).Int("disposed", res.Disposed).Msg("module executed")
	return res
}

// wrap places module statements in a function scope so that top-level
// declarations of successive generations do not collide.
func wrap(compiled string) string {
	return "(function(tracker){\n" + compiled + "\n})"
}

func (e *Executor) run(name, compiled string, tr *ResourceTracker) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%s: panic: %v", name, p)
		}
	}()
	if e.ctx != nil {
		for k, v := range e.ctx.Globals() {
			if err := e.rt.Set(k, v); err != nil {
				return fmt.Errorf("%s: bind %s: %w", name, k, err)
			}
		}
	}
	prog, err := goja.Compile(name, wrap(compiled), false)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	v, err := e.rt.RunProgram(prog)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	fn, ok := goja.AssertFunction(v)
	if !ok {
		return fmt.Errorf("%s: module wrapper is not callable", name)
	}
	if e.timeout > 0 {
		timer := time.AfterFunc(e.timeout, func() { e.rt.Interrupt(ErrTimeout) })
		defer func() {
			timer.Stop()
			e.rt.ClearInterrupt()
		}()
	}
	if _, err := fn(goja.Undefined(), e.trackerObject(tr)); err != nil {
		var ie *goja.InterruptedError
		if errors.As(err, &ie) && ie.Value() == ErrTimeout {
			return fmt.Errorf("%s: %w", name, ErrTimeout)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// trackerObject exposes tr to module code as tracker.track(handle, disposer).
// Without a disposer function the handle's own dispose method is used.
func (e *Executor) trackerObject(tr *ResourceTracker) *goja.Object {
	obj := e.rt.NewObject()
	_ = obj.Set("track", func(call goja.FunctionCall) goja.Value {
		handle := call.Argument(0)
		tr.Track(handle, disposerFor(handle, call.Argument(1)))
		return handle
	})
	_ = obj.Set("size", func(goja.FunctionCall) goja.Value {
		return e.rt.ToValue(tr.Len())
	})
	return obj
}

func disposerFor(handle, disposer goja.Value) func() error {
	if fn, ok := goja.AssertFunction(disposer); ok {
		return func() error {
			_, err := fn(goja.Undefined(), handle)
			return err
		}
	}
	if obj, ok := handle.(*goja.Object); ok {
		if fn, ok := goja.AssertFunction(obj.Get("dispose")); ok {
			return func() error {
				_, err := fn(obj)
				return err
			}
		}
	}
	return nil
}

// Cleanup releases the resources of name and forgets it. It returns the
// number released; unknown names release nothing.
func (e *Executor) Cleanup(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cleanupLocked(name)
}

func (e *Executor) cleanupLocked(name string) int {
	tr, ok := e.trackers[name]
	if !ok {
		return 0
	}
	delete(e.trackers, name)
	n, err := tr.Dispose()
	if err != nil {
		e.log.Warn().Str("module", name).Err(err).Msg("resource disposal failed")
	}
	return n
}

// CleanupAll releases every module's resources and returns the total.
func (e *Executor) CleanupAll() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	total := 0
	for _, name := range e.modulesLocked() {
		total += e.cleanupLocked(name)
	}
	return total
}

// Modules returns the names with a live generation, sorted.
func (e *Executor) Modules() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.modulesLocked()
}

func (e *Executor) modulesLocked() []string {
	out := make([]string, 0, len(e.trackers))
	for name := range e.trackers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Tracked returns the live resource count of name.
func (e *Executor) Tracked(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if tr, ok := e.trackers[name]; ok {
		return tr.Len()
	}
	return 0
}

var consoleLevels = []string{"log", "info", "warn", "error", "debug"}

func (e *Executor) bindConsole() {
	console := e.rt.NewObject()
	for _, level := range consoleLevels {
		_ = console.Set(level, func(call goja.FunctionCall) goja.Value {
			args := make([]any, len(call.Arguments))
			for i, a := range call.Arguments {
				args[i] = consoleArg(a)
			}
			if e.console != nil {
				e.console(level, args)
			} else {
				e.log.Debug().Str("level", level).Interface("args", args).Msg("console")
			}
			return goja.Undefined()
		})
	}
	_ = e.rt.Set("console", console)
}

// consoleArg exports v when the result is JSON encodable and falls back to
// its string form otherwise.
func consoleArg(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	if _, ok := goja.AssertFunction(v); ok {
		return v.String()
	}
	x := v.Export()
	if _, err := json.Marshal(x); err != nil {
		return v.String()
	}
	return x
}
