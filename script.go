// Package jsglobals runs JavaScript snippets in an isolated goja runtime and
// returns the top-level names they bind as Go values.
//
// A Script is built once from inline text, a file, a URL or any loader, and
// can be run many times:
//
//	s, err := jsglobals.New("let total = price * qty;")
//	...
//	globals, err := s.RunSync(map[string]any{"price": 3, "qty": 2})
//	// globals["total"] == int64(6)
package jsglobals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/robbyt/go-jsglobals/engines/goja/evaluator"
	"github.com/robbyt/go-jsglobals/engines/goja/sandbox"
	"github.com/robbyt/go-jsglobals/internal/helpers"
	"github.com/robbyt/go-jsglobals/internal/metrics"
	"github.com/robbyt/go-jsglobals/options"
	"github.com/robbyt/go-jsglobals/platform/data"
	"github.com/robbyt/go-jsglobals/platform/modules"
	"github.com/robbyt/go-jsglobals/platform/script/loader"
)

// ErrUnsupportedSeed is returned when a run is given a seed that is neither
// a map nor a context built by NewContext.
var ErrUnsupportedSeed = errors.New("seed must be a map[string]any or a *sandbox.Context")

// Script is a snippet ready to run. It is safe for concurrent use; each run
// gets its own context unless the caller passes a shared one.
type Script struct {
	id      string
	snippet evaluator.Snippet

	provider  data.Provider
	evaluator *evaluator.Evaluator

	logHandler slog.Handler
	logger     *slog.Logger
}

// New creates a Script from inline source text.
func New(code string, opts ...options.Option) (*Script, error) {
	l, err := loader.NewFromString(code)
	if err != nil {
		return nil, err
	}
	return FromLoader(l, opts...)
}

// FromFile creates a Script from a file on disk. Relative paths are resolved
// against the working directory.
func FromFile(path string, opts ...options.Option) (*Script, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("unable to resolve path: %w", err)
	}
	l, err := loader.NewFromDisk(abs)
	if err != nil {
		return nil, err
	}
	return FromLoader(l, opts...)
}

// FromURL creates a Script from an http or https URL. The fetch uses the HTTP
// options of the config and honors ctx.
func FromURL(ctx context.Context, rawURL string, opts ...options.Option) (*Script, error) {
	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}
	l, err := loader.NewFromHTTPWithOptions(rawURL, cfg.ResolverConfig().HTTP)
	if err != nil {
		return nil, err
	}
	if err := options.WithLoader(l)(cfg); err != nil {
		return nil, err
	}
	return build(ctx, cfg)
}

// FromLoader creates a Script from the source l returns.
func FromLoader(l loader.Loader, opts ...options.Option) (*Script, error) {
	cfg, err := newConfig(append([]options.Option{options.WithLoader(l)}, opts...))
	if err != nil {
		return nil, err
	}
	return build(context.Background(), cfg)
}

func newConfig(opts []options.Option) (*options.Config, error) {
	cfg := options.DefaultConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("error applying option: %w", err)
		}
	}
	if err := options.WithDefaults()(cfg); err != nil {
		return nil, fmt.Errorf("error applying defaults: %w", err)
	}
	return cfg, nil
}

func build(ctx context.Context, cfg *options.Config) (*Script, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	body, err := loader.ReadAll(ctx, cfg.GetLoader())
	if err != nil {
		return nil, fmt.Errorf("unable to read snippet: %w", err)
	}
	text := string(body)

	handler, logger := helpers.SetupLogger(cfg.GetHandler(), "jsglobals", "Script")

	snippet, err := evaluator.NewSnippet(text, cfg.GetOrigin(), cfg.TransformESMImports())
	if err != nil {
		return nil, err
	}

	resolver, err := modules.NewResolver(cfg.ResolverConfig())
	if err != nil {
		return nil, err
	}

	rec, err := metrics.New(cfg.GetRegisterer())
	if err != nil {
		return nil, fmt.Errorf("unable to register metrics: %w", err)
	}

	sbx := cfg.SandboxConfig()
	sbx.Resolver = resolver
	sbx.Metrics = rec

	s := &Script{
		id:       helpers.ShortID(text),
		snippet:  snippet,
		provider: cfg.GetDataProvider(),
		evaluator: evaluator.New(evaluator.Config{
			Handler:       handler,
			Analysis:      cfg.GetAnalysisOptions(),
			Sandbox:       sbx,
			NativeModules: cfg.GetNativeModules(),
			Metrics:       rec,
		}),
		logHandler: handler,
	}
	s.logger = logger.With("scriptID", s.id)
	s.logger.Debug("script created",
		"origin", snippet.Origin,
		"hasImports", snippet.HasImports,
		"moduleBase", resolver.Base().String(),
	)
	return s, nil
}

// ID returns a content hash identifying the snippet.
func (s *Script) ID() string {
	return s.id
}

// Origin returns the label used for the snippet in errors.
func (s *Script) Origin() string {
	return s.snippet.Origin
}

// Source returns the snippet text as given.
func (s *Script) Source() string {
	return s.snippet.Text
}

func (s *Script) String() string {
	return fmt.Sprintf("jsglobals.Script{ID: %s}", s.id)
}

// RunSync runs the snippet without awaiting. Top-level await is rejected, and
// promise-valued bindings are returned as *goja.Promise handles.
func (s *Script) RunSync(seed any, opts ...options.RunOption) (map[string]any, error) {
	rc, err := options.NewRunConfig(false, opts...)
	if err != nil {
		return nil, err
	}
	rc.Asynchronous = false
	return s.run(context.Background(), seed, rc)
}

// Run runs the snippet as an async function and waits for it to settle.
// Canceling ctx interrupts the snippet.
func (s *Script) Run(ctx context.Context, seed any, opts ...options.RunOption) (map[string]any, error) {
	rc, err := options.NewRunConfig(true, opts...)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, seed, rc)
}

func (s *Script) run(ctx context.Context, seed any, rc *options.RunConfig) (map[string]any, error) {
	merged, err := s.seed(ctx, seed)
	if err != nil {
		return nil, err
	}
	return s.evaluator.Eval(ctx, s.snippet, merged, toRun(rc))
}

// seed merges the provider data under an explicit map seed. A shared context
// is used as is.
func (s *Script) seed(ctx context.Context, seed any) (any, error) {
	var explicit map[string]any
	switch v := seed.(type) {
	case *sandbox.Context:
		return v, nil
	case map[string]any:
		explicit = v
	case nil:
	default:
		return nil, fmt.Errorf("%w: got %T", ErrUnsupportedSeed, seed)
	}

	provided, err := s.provider.GetData(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to get seed data: %w", err)
	}
	if len(provided) == 0 {
		return explicit, nil
	}
	return data.DeepMerge(provided, explicit), nil
}

// Analyze returns the top-level names a run with opts would collect, without
// running the snippet.
func (s *Script) Analyze(opts ...options.RunOption) ([]string, error) {
	rc, err := options.NewRunConfig(true, opts...)
	if err != nil {
		return nil, err
	}
	b, err := s.evaluator.Analyze(s.snippet, toRun(rc))
	if err != nil {
		return nil, err
	}
	return b.Names(), nil
}

// Strategy reports the execution strategy a run with opts would use.
func (s *Script) Strategy(opts ...options.RunOption) (evaluator.Strategy, error) {
	rc, err := options.NewRunConfig(true, opts...)
	if err != nil {
		return 0, err
	}
	return s.evaluator.Strategy(s.snippet, toRun(rc)), nil
}

// NewContext builds a context that can be passed as the seed of several
// runs, which then share their globals. Runs sharing a context must not
// overlap. The caller closes it.
func (s *Script) NewContext(seed map[string]any, opts ...options.RunOption) (*sandbox.Context, error) {
	rc, err := options.NewRunConfig(true, opts...)
	if err != nil {
		return nil, err
	}
	return s.evaluator.NewContext(seed, toRun(rc))
}

// AddDataToContext stores d in ctx for the data provider to merge into the
// seed of later runs.
func (s *Script) AddDataToContext(ctx context.Context, d ...map[string]any) (context.Context, error) {
	return s.provider.AddDataToContext(ctx, d...)
}

func toRun(rc *options.RunConfig) evaluator.Run {
	return evaluator.Run{
		Async:                   rc.Asynchronous,
		ReuseAmbientEnvironment: rc.ReuseAmbientEnvironment,
		AllowDynamicLoad:        rc.AllowDynamicLoad,
		ExposeLoader:            rc.ExposeLoader,
		PreferObjectExport:      rc.PreferObjectExportStrategy,
	}
}
