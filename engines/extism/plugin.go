// Package extism loads Extism WebAssembly plugins imported by a snippet and
// exposes their exported functions as module members.
package extism

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bytedance/sonic"
	extismSDK "github.com/extism/go-sdk"
	"github.com/tetratelabs/wazero"

	"github.com/robbyt/go-jsglobals/engines/extism/adapters"
	"github.com/robbyt/go-jsglobals/internal/helpers"
)

var (
	ErrContentNil       = errors.New("wasm content is empty")
	ErrCompileFailed    = errors.New("failed to compile wasm plugin")
	ErrInstanceFailed   = errors.New("failed to create wasm plugin instance")
	ErrFunctionNotFound = errors.New("function not found in wasm plugin")
	ErrCallFailed       = errors.New("wasm plugin call failed")
	ErrClosed           = errors.New("wasm plugin is closed")
)

// Settings holds configuration for compiling a plugin.
type Settings struct {
	// EnableWASI enables WASI support in the plugin
	EnableWASI bool
	// RuntimeConfig allows customizing the wazero runtime configuration
	RuntimeConfig wazero.RuntimeConfig
	// HostFunctions are additional host functions registered with the plugin
	HostFunctions []extismSDK.HostFunction
}

// DefaultSettings returns the default compilation settings.
func DefaultSettings() *Settings {
	return &Settings{
		EnableWASI:    true,
		RuntimeConfig: wazero.NewRuntimeConfig(),
	}
}

// Plugin is one instantiated Extism plugin. Calls are serialized.
type Plugin struct {
	mu       sync.Mutex
	compiled adapters.CompiledPlugin
	instance adapters.PluginInstance
	logger   *slog.Logger
}

// Load compiles wasm and creates a single instance of it.
func Load(
	ctx context.Context,
	handler slog.Handler,
	wasm []byte,
	settings *Settings,
) (*Plugin, error) {
	if len(wasm) == 0 {
		return nil, ErrContentNil
	}
	if settings == nil {
		settings = DefaultSettings()
	}

	manifest := extismSDK.Manifest{
		Wasm: []extismSDK.Wasm{
			extismSDK.WasmData{Data: wasm},
		},
	}
	config := extismSDK.PluginConfig{
		EnableWasi:    settings.EnableWASI,
		RuntimeConfig: settings.RuntimeConfig,
	}

	compiled, err := extismSDK.NewCompiledPlugin(ctx, manifest, config, settings.HostFunctions)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCompileFailed, err)
	}
	return NewFromCompiled(ctx, handler, adapters.Wrap(compiled))
}

// NewFromCompiled instantiates an already compiled plugin.
func NewFromCompiled(
	ctx context.Context,
	handler slog.Handler,
	compiled adapters.CompiledPlugin,
) (*Plugin, error) {
	if compiled == nil {
		return nil, ErrContentNil
	}
	_, logger := helpers.SetupLogger(handler, "extism", "Plugin")

	instance, err := compiled.Instance(ctx, adapters.NewPluginInstanceConfig())
	if err != nil {
		_ = compiled.Close(ctx)
		return nil, fmt.Errorf("%w: %w", ErrInstanceFailed, err)
	}

	return &Plugin{
		compiled: compiled,
		instance: instance,
		logger:   logger,
	}, nil
}

func (p *Plugin) String() string {
	return "extism.Plugin"
}

// Has reports whether the plugin exports a function called name.
func (p *Plugin) Has(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.instance == nil {
		return false
	}
	return p.instance.FunctionExists(name)
}

// Call invokes an exported function. Strings and byte slices are passed as-is,
// other inputs are JSON encoded. JSON output is decoded, any other output is
// returned as a string.
func (p *Plugin) Call(ctx context.Context, name string, input any) (any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.instance == nil {
		return nil, ErrClosed
	}
	if !p.instance.FunctionExists(name) {
		return nil, fmt.Errorf("%w: %s", ErrFunctionNotFound, name)
	}

	data, err := encodeInput(input)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding input: %w", ErrCallFailed, err)
	}

	exit, out, err := p.instance.CallWithContext(ctx, name, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCallFailed, name, err)
	}
	if exit != 0 {
		return nil, fmt.Errorf("%w: %s exited with code %d", ErrCallFailed, name, exit)
	}
	p.logger.DebugContext(ctx, "plugin call complete", "function", name, "outputBytes", len(out))
	return decodeOutput(out), nil
}

// Close releases the instance and the compiled plugin.
func (p *Plugin) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.instance == nil {
		return nil
	}
	errs := []error{p.instance.Close(ctx), p.compiled.Close(ctx)}
	p.instance = nil
	return errors.Join(errs...)
}

func encodeInput(input any) ([]byte, error) {
	switch v := input.(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return sonic.Marshal(v)
	}
}

func decodeOutput(out []byte) any {
	if len(out) == 0 {
		return nil
	}
	var v any
	if err := sonic.Unmarshal(out, &v); err != nil {
		return string(out)
	}
	return v
}
