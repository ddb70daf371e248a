// Package evaluator runs snippets with one of the execution strategies and
// returns the bindings they leave behind.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dop251/goja"
	"github.com/google/uuid"

	"github.com/robbyt/go-jsglobals/engines/goja/analyzer"
	"github.com/robbyt/go-jsglobals/engines/goja/internal/esm"
	"github.com/robbyt/go-jsglobals/engines/goja/internal/jserr"
	"github.com/robbyt/go-jsglobals/engines/goja/normalize"
	"github.com/robbyt/go-jsglobals/engines/goja/sandbox"
	"github.com/robbyt/go-jsglobals/engines/goja/wrapper"
	"github.com/robbyt/go-jsglobals/internal/helpers"
	"github.com/robbyt/go-jsglobals/internal/metrics"
	"github.com/robbyt/go-jsglobals/platform/constants"
	"github.com/robbyt/go-jsglobals/platform/scripterr"
)

const defaultFileName = "snippet.js"

// Config configures an Evaluator.
type Config struct {
	Handler slog.Handler

	// Analysis holds the parser options. Async, ModuleGrammar and Origin are
	// set per run.
	Analysis analyzer.Options

	// Sandbox is the template for the contexts built per run.
	// ReuseAmbientEnvironment and ExposeLoader are set per run.
	Sandbox sandbox.Config

	// NativeModules reports whether the native module strategy is available.
	NativeModules bool

	Metrics *metrics.Recorder
}

// Snippet is the source handed to Eval.
type Snippet struct {
	// Code is analyzed and executed. Static imports may already have been
	// rewritten into dynamic loads.
	Code string

	// Text is the caller's source, attached to execution errors.
	Text string

	Origin string

	// HasImports reports whether Text has static imports.
	HasImports bool
}

// NewSnippet prepares text for Eval. With transformImports, static imports
// are rewritten into awaited dynamic loads, which only succeed in async
// runs allowing dynamic loads.
func NewSnippet(text, origin string, transformImports bool) (Snippet, error) {
	s := Snippet{
		Code:       text,
		Text:       text,
		Origin:     origin,
		HasImports: esm.HasImports(text),
	}
	if transformImports {
		code, err := esm.ToDynamic(text, constants.DynamicImport)
		if err != nil {
			return Snippet{}, jserr.Parse(err, 0, origin, text)
		}
		s.Code = code
	}
	return s, nil
}

// Run holds the options of one run.
type Run struct {
	Async                   bool
	ReuseAmbientEnvironment bool
	AllowDynamicLoad        bool
	ExposeLoader            bool

	// PreferObjectExport overrides the default strategy preference when set.
	PreferObjectExport *bool
}

// Evaluator analyzes and runs snippets.
type Evaluator struct {
	cfg     Config
	metrics *metrics.Recorder

	logHandler slog.Handler
	logger     *slog.Logger
}

// New creates an Evaluator.
func New(cfg Config) *Evaluator {
	handler, logger := helpers.SetupLogger(cfg.Handler, "goja", "Evaluator")

	rec := cfg.Metrics
	if rec == nil {
		rec = metrics.Discard()
	}
	return &Evaluator{
		cfg:        cfg,
		metrics:    rec,
		logHandler: handler,
		logger:     logger,
	}
}

func (e *Evaluator) String() string {
	return "goja.Evaluator"
}

// Strategy returns the strategy a run of s with run options would use.
func (e *Evaluator) Strategy(s Snippet, run Run) Strategy {
	return Select(Selection{
		PreferObjectExport: run.PreferObjectExport,
		NativeModules:      e.cfg.NativeModules,
		HasImports:         s.HasImports,
		Async:              run.Async,
	})
}

// Analyze returns the bindings of s as a run with run options sees them.
func (e *Evaluator) Analyze(s Snippet, run Run) (*analyzer.Bindings, error) {
	return e.analyze(s, run, e.Strategy(s, run))
}

func (e *Evaluator) analyze(s Snippet, run Run, strategy Strategy) (*analyzer.Bindings, error) {
	opts := e.cfg.Analysis
	opts.Async = run.Async
	opts.ModuleGrammar = strategy == NativeModule
	opts.Origin = s.Origin
	return analyzer.Analyze(s.Code, opts)
}

// Eval runs s against seed and returns its bindings. seed is nil, a
// map[string]any or a *sandbox.Context owned by the caller. Failures are
// returned as *scripterr.Error values, never together with a result.
func (e *Evaluator) Eval(ctx context.Context, s Snippet, seed any, run Run) (map[string]any, error) {
	runID := uuid.NewString()
	ctx = context.WithValue(ctx, constants.RunID, runID)

	strategy := e.Strategy(s, run)
	logger := e.logger.WithGroup("Eval").With("runID", runID, "strategy", strategy.String())

	start := time.Now()
	result, err := e.eval(ctx, logger, s, seed, run, strategy)
	elapsed := time.Since(start)
	e.metrics.ObserveRun(strategy.String(), outcome(err), elapsed)

	if err != nil {
		logger.DebugContext(ctx, "run failed", "error", err, "elapsed", elapsed)
		return nil, err
	}
	logger.DebugContext(ctx, "run complete", "bindings", len(result), "elapsed", elapsed)
	return result, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, scripterr.ErrAnalysis):
		return metrics.OutcomeAnalysisError
	default:
		return metrics.OutcomeExecutionError
	}
}

func (e *Evaluator) eval(
	ctx context.Context,
	logger *slog.Logger,
	s Snippet,
	seed any,
	run Run,
	strategy Strategy,
) (map[string]any, error) {
	// The object-export seed is checked before anything is parsed.
	var params []string
	var args string
	if strategy == ObjectExport {
		var err error
		if params, args, err = e.encodeSeed(s, seed); err != nil {
			return nil, err
		}
	}

	bindings, err := e.analyze(s, run, strategy)
	if err != nil {
		return nil, err
	}
	e.metrics.ObserveBindings(bindings.Len())
	names := bindings.Names()
	logger.DebugContext(ctx, "bindings discovered", "names", names)

	unit := wrapper.Wrap(wrapper.Request{
		Code:   s.Code,
		Mode:   wrapper.Execution,
		Async:  run.Async,
		Names:  names,
		Shape:  strategy.Shape(),
		Params: params,
		Args:   args,
	})

	var result map[string]any
	switch strategy {
	case ObjectExport:
		result, err = e.objectExport(ctx, s, unit, run)
	case NativeModule:
		result, err = e.nativeModule(ctx, s, unit, seed, run)
	default:
		result, err = e.direct(ctx, s, unit, seed, run)
	}
	if err != nil {
		return nil, jserr.Execution(err, strategy.String(), s.Origin, s.Text)
	}
	return result, nil
}

func (e *Evaluator) direct(
	ctx context.Context,
	s Snippet,
	unit wrapper.Unit,
	seed any,
	run Run,
) (map[string]any, error) {
	sc, release, err := e.context(seed, run)
	if err != nil {
		return nil, err
	}
	defer release()

	end := sc.Begin(ctx, run.AllowDynamicLoad)
	defer end()

	vm := sc.Runtime()
	prog, err := goja.Compile(fileName(s), unit.Source, false)
	if err != nil {
		return nil, err
	}
	v, err := vm.RunProgram(prog)
	if err != nil {
		return nil, err
	}
	if run.Async {
		if v, err = sc.Await(ctx, v); err != nil {
			return nil, err
		}
	}
	return normalize.Bindings(vm, v), nil
}

// nativeModule loads the imports of the module source in declared order,
// then evaluates the linked body and returns its default export.
func (e *Evaluator) nativeModule(
	ctx context.Context,
	s Snippet,
	unit wrapper.Unit,
	seed any,
	run Run,
) (map[string]any, error) {
	linked, m, err := esm.Link(unit.Source, constants.ModuleLink, constants.ModuleRecord, constants.DynamicImport)
	if err != nil {
		return nil, err
	}

	sc, release, err := e.context(seed, run)
	if err != nil {
		return nil, err
	}
	defer release()

	end := sc.Begin(ctx, run.AllowDynamicLoad)
	defer end()

	vm := sc.Runtime()
	namespaces := make([]any, 0, len(m.Imports))
	for _, imp := range m.Imports {
		ns, err := sc.Load(ctx, imp.Specifier)
		if err != nil {
			return nil, fmt.Errorf("importing %q: %w", imp.Specifier, err)
		}
		namespaces = append(namespaces, ns)
	}

	// The body starts on the first line so positions match the snippet.
	body := "(async function (" + constants.ModuleLink + ", " + constants.ModuleRecord + ") { \"use strict\"; " +
		linked + "\n})"
	prog, err := goja.Compile(fileName(s), body, false)
	if err != nil {
		return nil, err
	}
	fnValue, err := vm.RunProgram(prog)
	if err != nil {
		return nil, err
	}
	fn, ok := goja.AssertFunction(fnValue)
	if !ok {
		return nil, errors.New("module body is not a function")
	}

	record := vm.NewObject()
	p, err := fn(goja.Undefined(), vm.NewArray(namespaces...), record)
	if err != nil {
		return nil, err
	}
	if _, err := sc.Await(ctx, p); err != nil {
		return nil, err
	}
	return normalize.Bindings(vm, record.Get("default")), nil
}

// objectExport runs the unit in a fresh host context. The seed travels
// inside the unit as JSON.
func (e *Evaluator) objectExport(
	ctx context.Context,
	s Snippet,
	unit wrapper.Unit,
	run Run,
) (map[string]any, error) {
	host, err := sandbox.NewHost(e.sandboxConfig(run))
	if err != nil {
		return nil, err
	}
	defer e.closeContext(host)

	module, err := host.Module()
	if err != nil {
		return nil, err
	}

	end := host.Begin(ctx, run.AllowDynamicLoad)
	defer end()

	vm := host.Runtime()
	prog, err := goja.Compile(fileName(s), unit.Source, false)
	if err != nil {
		return nil, err
	}
	if _, err := vm.RunProgram(prog); err != nil {
		return nil, err
	}

	exports := module.Get("exports")
	if run.Async {
		if exports, err = host.Await(ctx, exports); err != nil {
			return nil, err
		}
	}
	return normalize.Bindings(vm, exports), nil
}

// encodeSeed validates and encodes the object-export seed. The first
// offending key is reported.
func (e *Evaluator) encodeSeed(s Snippet, seed any) ([]string, string, error) {
	strategy := ObjectExport.String()

	var data map[string]any
	switch v := seed.(type) {
	case nil:
	case map[string]any:
		data = v
	default:
		return nil, "", &scripterr.Error{
			Kind:     scripterr.KindExecution,
			Message:  fmt.Sprintf("the %s strategy needs map seed data, got %T", strategy, seed),
			Origin:   s.Origin,
			Strategy: strategy,
			Source:   s.Text,
			Err:      scripterr.ErrInvalidSeed,
		}
	}

	params, args, err := wrapper.EncodeSeed(data)
	if err != nil {
		var se *wrapper.SeedError
		if errors.As(err, &se) {
			return nil, "", scripterr.InvalidSeed(strategy, s.Origin, s.Text, se.Key, se.Type)
		}
		return nil, "", jserr.Execution(err, strategy, s.Origin, s.Text)
	}
	return params, args, nil
}

// NewContext builds a context configured like the ones Eval builds for run.
// The caller owns it and closes it when done.
func (e *Evaluator) NewContext(seed map[string]any, run Run) (*sandbox.Context, error) {
	return sandbox.Build(seed, e.sandboxConfig(run))
}

// context returns the context for seed and the function releasing it.
// Contexts passed in by the caller are not released.
func (e *Evaluator) context(seed any, run Run) (*sandbox.Context, func(), error) {
	if sc, ok := seed.(*sandbox.Context); ok {
		return sc, func() {}, nil
	}
	sc, err := sandbox.Build(seed, e.sandboxConfig(run))
	if err != nil {
		return nil, nil, err
	}
	return sc, func() { e.closeContext(sc) }, nil
}

func (e *Evaluator) closeContext(sc *sandbox.Context) {
	if err := sc.Close(context.Background()); err != nil {
		e.logger.Warn("failed to close context", "error", err)
	}
}

func (e *Evaluator) sandboxConfig(run Run) sandbox.Config {
	cfg := e.cfg.Sandbox
	cfg.ReuseAmbientEnvironment = run.ReuseAmbientEnvironment
	cfg.ExposeLoader = run.ExposeLoader
	if cfg.Handler == nil {
		cfg.Handler = e.logHandler
	}
	if cfg.Metrics == nil {
		cfg.Metrics = e.metrics
	}
	return cfg
}

func fileName(s Snippet) string {
	if s.Origin != "" {
		return s.Origin
	}
	return defaultFileName
}
