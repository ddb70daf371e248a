package options

import (
	"log/slog"
	"os"

	"github.com/robbyt/go-jsglobals/engines/goja/analyzer"
	"github.com/robbyt/go-jsglobals/internal/hostenv"
	"github.com/robbyt/go-jsglobals/platform/constants"
	"github.com/robbyt/go-jsglobals/platform/data"
	"github.com/robbyt/go-jsglobals/platform/script/loader"
)

const contextKey = constants.EvalData

// DefaultConfig initializes a Config with sensible defaults
func DefaultConfig() *Config {
	flags := hostenv.Current()
	cfg := &Config{
		handler:      DefaultHandler(),
		dataProvider: DefaultDataProvider(),
		analysis:     analyzer.DefaultOptions(),
		httpOptions:  DefaultHTTPOptions(),
	}
	if flags.ModuleBase != "" {
		// An unusable base falls back to the working directory.
		if u, err := parseBase(flags.ModuleBase); err == nil {
			cfg.moduleBase = u
		}
	}
	return cfg
}

// DefaultHandler returns the default logging handler
func DefaultHandler() slog.Handler {
	return slog.NewTextHandler(os.Stdout, nil)
}

// DefaultDataProvider returns the default data provider, reading data
// added with AddDataToContext.
func DefaultDataProvider() data.Provider {
	return data.NewContextProvider(contextKey)
}

// DefaultHTTPOptions returns the HTTP module fetch options, with timeout and
// retries taken from the host flags.
func DefaultHTTPOptions() *loader.HTTPOptions {
	flags := hostenv.Current()
	opts := loader.DefaultHTTPOptions()
	if flags.HTTPTimeout > 0 {
		opts.Timeout = flags.HTTPTimeout
	}
	if flags.HTTPRetries >= 0 {
		opts.RetryMax = flags.HTTPRetries
	}
	return opts
}

// WithDefaults applies default values to any config properties that are nil
func WithDefaults() Option {
	return func(c *Config) error {
		if c.handler == nil {
			c.handler = DefaultHandler()
		}
		if c.dataProvider == nil {
			c.dataProvider = DefaultDataProvider()
		}
		if c.httpOptions == nil {
			c.httpOptions = DefaultHTTPOptions()
		}
		return nil
	}
}
