package hostenv

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		f, err := Load("JSGLOBALS_TEST_DEFAULTS")
		require.NoError(t, err)
		assert.Equal(t, Default(), f)
	})

	t.Run("from environment", func(t *testing.T) {
		t.Setenv("JSGLOBALS_TEST_ENV_NATIVE_MODULES", "true")
		t.Setenv("JSGLOBALS_TEST_ENV_MODULE_BASE", "/srv/modules")
		t.Setenv("JSGLOBALS_TEST_ENV_HTTP_TIMEOUT", "5s")
		t.Setenv("JSGLOBALS_TEST_ENV_HTTP_RETRIES", "1")

		f, err := Load("JSGLOBALS_TEST_ENV")
		require.NoError(t, err)
		assert.True(t, f.NativeModules)
		assert.Equal(t, "/srv/modules", f.ModuleBase)
		assert.Equal(t, 5*time.Second, f.HTTPTimeout)
		assert.Equal(t, 1, f.HTTPRetries)
	})

	t.Run("invalid value", func(t *testing.T) {
		t.Setenv("JSGLOBALS_TEST_BAD_NATIVE_MODULES", "maybe")
		_, err := Load("JSGLOBALS_TEST_BAD")
		require.Error(t, err)
	})
}

func TestCurrentIsStable(t *testing.T) {
	assert.Equal(t, Current(), Current())
}
