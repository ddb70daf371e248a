package adapters

import (
	"testing"

	extismSDK "github.com/extism/go-sdk"
	"github.com/stretchr/testify/assert"
)

var (
	_ CompiledPlugin = compiledPlugin{}
	_ PluginInstance = (*extismSDK.Plugin)(nil)
)

func TestWrapNil(t *testing.T) {
	t.Parallel()
	assert.Nil(t, Wrap(nil))
}

func TestNewPluginInstanceConfig(t *testing.T) {
	t.Parallel()
	assert.NotNil(t, NewPluginInstanceConfig().ModuleConfig)
}
