// Package hostenv reads process-wide host settings from the environment.
package hostenv

import (
	"fmt"
	"sync"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Prefix is prepended to every variable name, e.g. JSGLOBALS_NATIVE_MODULES.
const Prefix = "JSGLOBALS"

// Flags holds host settings. They are read once and are read-only afterwards.
type Flags struct {
	// NativeModules enables the native module evaluation strategy.
	NativeModules bool `envconfig:"NATIVE_MODULES" default:"false"`

	// ModuleBase overrides the base directory module specifiers resolve against.
	// Empty means the working directory.
	ModuleBase string `envconfig:"MODULE_BASE"`

	// HTTPTimeout limits each attempt of an HTTP module fetch.
	HTTPTimeout time.Duration `envconfig:"HTTP_TIMEOUT" default:"30s"`

	// HTTPRetries is the number of retries of a failed HTTP module fetch.
	HTTPRetries int `envconfig:"HTTP_RETRIES" default:"3"`
}

// Load reads the flags from the environment using the given prefix.
func Load(prefix string) (Flags, error) {
	var f Flags
	if err := envconfig.Process(prefix, &f); err != nil {
		return Flags{}, fmt.Errorf("failed to load host flags: %w", err)
	}
	return f, nil
}

// Default returns the flags used when the environment can't be read.
func Default() Flags {
	return Flags{
		HTTPTimeout: 30 * time.Second,
		HTTPRetries: 3,
	}
}

var current = sync.OnceValues(func() (Flags, error) {
	return Load(Prefix)
})

// Current returns the process flags, read from the environment on first use.
func Current() Flags {
	f, err := current()
	if err != nil {
		return Default()
	}
	return f
}
