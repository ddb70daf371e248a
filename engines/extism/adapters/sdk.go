package adapters

import (
	"context"
	"crypto/rand"

	extismSDK "github.com/extism/go-sdk"
	"github.com/tetratelabs/wazero"
)

// Wrap adapts a compiled SDK plugin. A nil plugin gives a nil CompiledPlugin.
func Wrap(compiled *extismSDK.CompiledPlugin) CompiledPlugin {
	if compiled == nil {
		return nil
	}
	return compiledPlugin{compiled}
}

// NewPluginInstanceConfig returns the instance configuration used for module
// plugins: wall and monotonic clocks plus a crypto random source.
func NewPluginInstanceConfig() extismSDK.PluginInstanceConfig {
	return extismSDK.PluginInstanceConfig{
		ModuleConfig: wazero.NewModuleConfig().
			WithSysWalltime().
			WithSysNanotime().
			WithRandSource(rand.Reader),
	}
}

type compiledPlugin struct {
	*extismSDK.CompiledPlugin
}

func (c compiledPlugin) Instance(
	ctx context.Context,
	config extismSDK.PluginInstanceConfig,
) (PluginInstance, error) {
	p, err := c.CompiledPlugin.Instance(ctx, config)
	if err != nil {
		return nil, err
	}
	return p, nil
}
