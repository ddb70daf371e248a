package extism

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	extismSDK "github.com/extism/go-sdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/robbyt/go-jsglobals/engines/extism/adapters"
)

type mockCompiled struct {
	mock.Mock
}

func (m *mockCompiled) Instance(
	ctx context.Context,
	config extismSDK.PluginInstanceConfig,
) (adapters.PluginInstance, error) {
	args := m.Called(ctx, config)
	inst, _ := args.Get(0).(adapters.PluginInstance)
	return inst, args.Error(1)
}

func (m *mockCompiled) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type mockInstance struct {
	mock.Mock
}

func (m *mockInstance) CallWithContext(
	ctx context.Context,
	name string,
	data []byte,
) (uint32, []byte, error) {
	args := m.Called(ctx, name, data)
	out, _ := args.Get(1).([]byte)
	return args.Get(0).(uint32), out, args.Error(2)
}

func (m *mockInstance) FunctionExists(name string) bool {
	return m.Called(name).Bool(0)
}

func (m *mockInstance) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func newMockPlugin(t *testing.T) (*Plugin, *mockCompiled, *mockInstance) {
	t.Helper()
	inst := &mockInstance{}
	compiled := &mockCompiled{}
	compiled.On("Instance", mock.Anything, mock.Anything).Return(inst, nil)

	p, err := NewFromCompiled(t.Context(), slog.NewTextHandler(os.Stdout, nil), compiled)
	require.NoError(t, err)
	return p, compiled, inst
}

func TestPluginCall(t *testing.T) {
	t.Parallel()

	t.Run("json in and out", func(t *testing.T) {
		t.Parallel()
		p, _, inst := newMockPlugin(t)
		inst.On("FunctionExists", "greet").Return(true)
		inst.On("CallWithContext", mock.Anything, "greet", []byte(`{"name":"World"}`)).
			Return(uint32(0), []byte(`{"greeting":"Hello, World!"}`), nil)

		got, err := p.Call(t.Context(), "greet", map[string]any{"name": "World"})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"greeting": "Hello, World!"}, got)
		assert.True(t, p.Has("greet"))
	})

	t.Run("string passthrough", func(t *testing.T) {
		t.Parallel()
		p, _, inst := newMockPlugin(t)
		inst.On("FunctionExists", "echo").Return(true)
		inst.On("CallWithContext", mock.Anything, "echo", []byte("plain")).
			Return(uint32(0), []byte("plain text"), nil)

		got, err := p.Call(t.Context(), "echo", "plain")
		require.NoError(t, err)
		assert.Equal(t, "plain text", got)
	})

	t.Run("missing function", func(t *testing.T) {
		t.Parallel()
		p, _, inst := newMockPlugin(t)
		inst.On("FunctionExists", "nope").Return(false)

		_, err := p.Call(t.Context(), "nope", nil)
		require.ErrorIs(t, err, ErrFunctionNotFound)
	})

	t.Run("non zero exit", func(t *testing.T) {
		t.Parallel()
		p, _, inst := newMockPlugin(t)
		inst.On("FunctionExists", "fail").Return(true)
		inst.On("CallWithContext", mock.Anything, "fail", []byte(nil)).
			Return(uint32(1), nil, nil)

		_, err := p.Call(t.Context(), "fail", nil)
		require.ErrorIs(t, err, ErrCallFailed)
	})
}

func TestPluginClose(t *testing.T) {
	t.Parallel()

	p, compiled, inst := newMockPlugin(t)
	inst.On("Close", mock.Anything).Return(nil)
	compiled.On("Close", mock.Anything).Return(nil)

	require.NoError(t, p.Close(t.Context()))
	require.NoError(t, p.Close(t.Context()), "second close is a no-op")
	assert.False(t, p.Has("greet"))

	_, err := p.Call(t.Context(), "greet", nil)
	require.ErrorIs(t, err, ErrClosed)

	inst.AssertNumberOfCalls(t, "Close", 1)
	compiled.AssertNumberOfCalls(t, "Close", 1)
}

func TestNewFromCompiledInstanceError(t *testing.T) {
	t.Parallel()

	compiled := &mockCompiled{}
	compiled.On("Instance", mock.Anything, mock.Anything).Return(nil, errors.New("boom"))
	compiled.On("Close", mock.Anything).Return(nil)

	_, err := NewFromCompiled(t.Context(), nil, compiled)
	require.ErrorIs(t, err, ErrInstanceFailed)
	compiled.AssertCalled(t, "Close", mock.Anything)
}

func TestLoadRejectsEmptyWasm(t *testing.T) {
	t.Parallel()

	_, err := Load(t.Context(), nil, nil, nil)
	require.ErrorIs(t, err, ErrContentNil)

	_, err = Load(t.Context(), nil, []byte("not wasm"), nil)
	require.ErrorIs(t, err, ErrCompileFailed)
}
