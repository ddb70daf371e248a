package options

// RunConfig holds the options of one run.
type RunConfig struct {
	// Asynchronous runs the snippet as an async function, so it may await.
	Asynchronous bool

	// ReuseAmbientEnvironment lets unresolved names fall through to the
	// host facility table.
	ReuseAmbientEnvironment bool

	// AllowDynamicLoad permits the snippet to load modules while running.
	AllowDynamicLoad bool

	// ExposeLoader injects a synchronous require resolving against the
	// module base.
	ExposeLoader bool

	// PreferObjectExportStrategy forces the object-export strategy on or
	// off. Nil keeps the default, which is on when native modules are
	// unavailable and the snippet has imports.
	PreferObjectExportStrategy *bool
}

// RunOption is a function that modifies RunConfig
type RunOption func(*RunConfig) error

// NewRunConfig applies opts over the defaults of a run, which is
// asynchronous when async is set.
func NewRunConfig(async bool, opts ...RunOption) (*RunConfig, error) {
	cfg := &RunConfig{Asynchronous: async}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// WithAsynchronous sets whether the snippet may await. RunSync ignores it.
func WithAsynchronous(enabled bool) RunOption {
	return func(c *RunConfig) error {
		c.Asynchronous = enabled
		return nil
	}
}

// WithReuseAmbientEnvironment shares the host facility table with the snippet
func WithReuseAmbientEnvironment() RunOption {
	return func(c *RunConfig) error {
		c.ReuseAmbientEnvironment = true
		return nil
	}
}

// WithAllowDynamicLoad permits loading modules while the snippet runs
func WithAllowDynamicLoad() RunOption {
	return func(c *RunConfig) error {
		c.AllowDynamicLoad = true
		return nil
	}
}

// WithExposeLoader injects require into the context
func WithExposeLoader() RunOption {
	return func(c *RunConfig) error {
		c.ExposeLoader = true
		return nil
	}
}

// WithPreferObjectExportStrategy forces the object-export strategy on or off
func WithPreferObjectExportStrategy(prefer bool) RunOption {
	return func(c *RunConfig) error {
		c.PreferObjectExportStrategy = &prefer
		return nil
	}
}
