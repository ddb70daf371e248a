package options

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/robbyt/go-jsglobals/engines/extism"
	"github.com/robbyt/go-jsglobals/engines/goja/analyzer"
	"github.com/robbyt/go-jsglobals/engines/goja/sandbox"
	"github.com/robbyt/go-jsglobals/internal/hostenv"
	"github.com/robbyt/go-jsglobals/platform/data"
	"github.com/robbyt/go-jsglobals/platform/modules"
	"github.com/robbyt/go-jsglobals/platform/script/loader"
	"github.com/robbyt/go-jsglobals/platform/script/loader/httpauth"
)

var (
	ErrNoLoader        = errors.New("no loader specified")
	ErrNoDataProvider  = errors.New("no data provider specified")
	ErrInvalidBase     = errors.New("module base must be an absolute path or a file or http URL")
	ErrInvalidCallSize = errors.New("max call stack size must not be negative")
)

// Config holds the configuration of a Script
type Config struct {
	handler      slog.Handler
	loader       loader.Loader
	dataProvider data.Provider

	// origin labels the snippet in errors, defaults to the loader's URL
	origin              string
	transformESMImports bool
	analysis            analyzer.Options

	codeGeneration   sandbox.CodeGeneration
	ambient          sandbox.Ambient
	maxCallStackSize int
	extism           *extism.Settings

	moduleBase  *url.URL
	policy      *modules.Policy
	hostModules map[string]any
	httpOptions *loader.HTTPOptions
	credentials *httpauth.Origins

	// nativeModules overrides the host flag when set
	nativeModules *bool
	registerer    prometheus.Registerer
}

// Option is a function that modifies Config
type Option func(*Config) error

// WithLogHandler sets the log handler
func WithLogHandler(handler slog.Handler) Option {
	return func(c *Config) error {
		if handler != nil {
			c.handler = handler
		}
		return nil
	}
}

// WithLogger sets the log handler from an existing logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) error {
		if logger != nil {
			c.handler = logger.Handler()
		}
		return nil
	}
}

// WithLoader sets the snippet loader
func WithLoader(l loader.Loader) Option {
	return func(c *Config) error {
		if l != nil {
			c.loader = l
		}
		return nil
	}
}

// WithDataProvider sets the provider of seed data merged into every run
func WithDataProvider(provider data.Provider) Option {
	return func(c *Config) error {
		if provider != nil {
			c.dataProvider = provider
		}
		return nil
	}
}

// WithStaticData seeds every run with d. Data added to the context with
// AddDataToContext and the seed passed to a run take precedence.
func WithStaticData(d map[string]any) Option {
	return func(c *Config) error {
		c.dataProvider = data.NewCompositeProvider(
			data.NewStaticProvider(d),
			data.NewContextProvider(contextKey),
		)
		return nil
	}
}

// WithOrigin sets the label identifying the snippet in errors
func WithOrigin(origin string) Option {
	return func(c *Config) error {
		c.origin = origin
		return nil
	}
}

// WithTransformESMImports rewrites static import statements into awaited
// dynamic loads when the snippet is created.
func WithTransformESMImports(enabled bool) Option {
	return func(c *Config) error {
		c.transformESMImports = enabled
		return nil
	}
}

// WithAnalysisOptions sets the parser options
func WithAnalysisOptions(opts analyzer.Options) Option {
	return func(c *Config) error {
		c.analysis = opts
		return nil
	}
}

// WithCodeGeneration re-enables code generation facilities in the context
func WithCodeGeneration(cg sandbox.CodeGeneration) Option {
	return func(c *Config) error {
		c.codeGeneration = cg
		return nil
	}
}

// WithAmbient replaces the host facility table used when the ambient
// environment is reused
func WithAmbient(ambient sandbox.Ambient) Option {
	return func(c *Config) error {
		if ambient != nil {
			c.ambient = ambient
		}
		return nil
	}
}

// WithMaxCallStackSize limits recursion depth inside the context
func WithMaxCallStackSize(size int) Option {
	return func(c *Config) error {
		if size < 0 {
			return fmt.Errorf("%w: %d", ErrInvalidCallSize, size)
		}
		c.maxCallStackSize = size
		return nil
	}
}

// WithExtismSettings configures plugins loaded from .wasm modules
func WithExtismSettings(settings *extism.Settings) Option {
	return func(c *Config) error {
		if settings != nil {
			c.extism = settings
		}
		return nil
	}
}

// WithModuleBase sets the location module specifiers resolve against. It
// is an absolute directory or a file, http or https URL.
func WithModuleBase(base string) Option {
	return func(c *Config) error {
		u, err := parseBase(base)
		if err != nil {
			return err
		}
		c.moduleBase = u
		return nil
	}
}

func parseBase(base string) (*url.URL, error) {
	if filepath.IsAbs(base) {
		return modules.DirectoryURL(base), nil
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidBase, err)
	}
	switch u.Scheme {
	case "file":
		return modules.DirectoryURL(u.Path), nil
	case "http", "https":
		if !strings.HasSuffix(u.Path, "/") {
			u.Path += "/"
		}
		return u, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidBase, base)
}

// WithAllowedModules restricts module loads to URLs matching one of the
// glob patterns.
func WithAllowedModules(patterns ...string) Option {
	return func(c *Config) error {
		p, err := modules.NewPolicy(patterns...)
		if err != nil {
			return err
		}
		c.policy = p
		return nil
	}
}

// WithHostModule registers value as the module named name
func WithHostModule(name string, value any) Option {
	return func(c *Config) error {
		if name == "" {
			return fmt.Errorf("%w: empty host module name", modules.ErrBadSpecifier)
		}
		if c.hostModules == nil {
			c.hostModules = make(map[string]any)
		}
		c.hostModules[name] = value
		return nil
	}
}

// WithHTTPOptions configures fetches of http and https modules
func WithHTTPOptions(opts *loader.HTTPOptions) Option {
	return func(c *Config) error {
		if opts != nil {
			c.httpOptions = opts
		}
		return nil
	}
}

// WithModuleCredentials sends auth when fetching modules whose URL matches
// pattern, a glob in the syntax of WithAllowedModules. Earlier registrations
// win when patterns overlap.
func WithModuleCredentials(pattern string, auth httpauth.Authenticator) Option {
	return func(c *Config) error {
		if c.credentials == nil {
			c.credentials = httpauth.NewOrigins()
		}
		return c.credentials.Add(pattern, auth)
	}
}

// WithNativeModules overrides the JSGLOBALS_NATIVE_MODULES host flag
func WithNativeModules(enabled bool) Option {
	return func(c *Config) error {
		c.nativeModules = &enabled
		return nil
	}
}

// WithRegisterer registers the run metrics with reg
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Config) error {
		c.registerer = reg
		return nil
	}
}

// Validate performs basic validation on the configuration
func (c *Config) Validate() error {
	if c.loader == nil {
		return ErrNoLoader
	}
	if c.dataProvider == nil {
		return ErrNoDataProvider
	}
	return nil
}

// GetHandler returns the configured log handler
func (c *Config) GetHandler() slog.Handler {
	return c.handler
}

// GetLoader returns the configured loader
func (c *Config) GetLoader() loader.Loader {
	return c.loader
}

// GetDataProvider returns the configured data provider
func (c *Config) GetDataProvider() data.Provider {
	return c.dataProvider
}

// GetOrigin returns the origin label, falling back to the loader's URL
func (c *Config) GetOrigin() string {
	if c.origin != "" || c.loader == nil {
		return c.origin
	}
	u := c.loader.GetSourceURL()
	if u == nil || u.Scheme == "string" {
		return ""
	}
	return u.String()
}

// TransformESMImports reports whether static imports are rewritten
func (c *Config) TransformESMImports() bool {
	return c.transformESMImports
}

// GetAnalysisOptions returns the parser options
func (c *Config) GetAnalysisOptions() analyzer.Options {
	return c.analysis
}

// GetNativeModules reports whether the native module strategy is available
func (c *Config) GetNativeModules() bool {
	if c.nativeModules != nil {
		return *c.nativeModules
	}
	return hostenv.Current().NativeModules
}

// GetRegisterer returns the metrics registerer, nil when metrics are not registered
func (c *Config) GetRegisterer() prometheus.Registerer {
	return c.registerer
}

// ResolverConfig returns the module resolver configuration
func (c *Config) ResolverConfig() modules.Config {
	return modules.Config{
		Base:        c.moduleBase,
		Host:        c.hostModules,
		Policy:      c.policy,
		HTTP:        c.httpOptions,
		Credentials: c.credentials,
		Handler:     c.handler,
	}
}

// SandboxConfig returns the template for contexts built per run. The
// resolver and metrics are filled in by the caller.
func (c *Config) SandboxConfig() sandbox.Config {
	return sandbox.Config{
		Handler:          c.handler,
		CodeGeneration:   c.codeGeneration,
		Ambient:          c.ambient,
		Extism:           c.extism,
		MaxCallStackSize: c.maxCallStackSize,
	}
}
