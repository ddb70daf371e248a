// Package starlark evaluates Starlark files imported by a snippet and exposes
// their globals as module exports.
package starlark

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	starlarkLib "go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/robbyt/go-jsglobals/engines/starlark/internal"
	"github.com/robbyt/go-jsglobals/internal/helpers"
)

var (
	ErrContentNil = errors.New("starlark content is nil")
	ErrExecFailed = errors.New("starlark execution failed")
)

// fileOptions allows top-level control flow and reassignment, which module-style
// scripts commonly use.
var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

// Module runs Starlark sources. The zero value is not usable, create it with New.
type Module struct {
	logger *slog.Logger
}

// New creates a Module that logs Starlark print() output through handler.
func New(handler slog.Handler) *Module {
	_, logger := helpers.SetupLogger(handler, "starlark", "Module")
	return &Module{logger: logger}
}

func (m *Module) String() string {
	return "starlark.Module"
}

// Exec runs src and returns its public globals converted to Go values.
// Names starting with an underscore stay private. Starlark functions become
// Go functions of type func(args ...any) (any, error).
func (m *Module) Exec(ctx context.Context, name string, src []byte) (map[string]any, error) {
	if src == nil {
		return nil, ErrContentNil
	}
	logger := m.logger.With("module", name)

	thread := m.newThread(ctx, name)
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel(ctx.Err().Error())
		case <-done:
		}
	}()

	globals, err := starlarkLib.ExecFileOptions(
		fileOptions,
		thread,
		name,
		src,
		internal.StandardModules(),
	)
	if err != nil {
		var evalErr *starlarkLib.EvalError
		if errors.As(err, &evalErr) {
			return nil, fmt.Errorf("%w: %s", ErrExecFailed, evalErr.Backtrace())
		}
		return nil, fmt.Errorf("%w: %w", ErrExecFailed, err)
	}

	call := func(fn starlarkLib.Callable, args ...any) (any, error) {
		return m.call(ctx, name, fn, args...)
	}

	exports := make(map[string]any, len(globals))
	for key, value := range globals {
		if strings.HasPrefix(key, "_") {
			continue
		}
		converted, err := internal.ToGo(value, call)
		if err != nil {
			return nil, fmt.Errorf("converting global %q: %w", key, err)
		}
		exports[key] = converted
	}

	logger.DebugContext(ctx, "starlark module evaluated", "exports", len(exports))
	return exports, nil
}

func (m *Module) newThread(ctx context.Context, name string) *starlarkLib.Thread {
	return &starlarkLib.Thread{
		Name: name,
		Print: func(_ *starlarkLib.Thread, msg string) {
			m.logger.InfoContext(ctx, msg, "module", name)
		},
	}
}

func (m *Module) call(
	ctx context.Context,
	name string,
	fn starlarkLib.Callable,
	args ...any,
) (any, error) {
	tuple := make(starlarkLib.Tuple, len(args))
	for i, arg := range args {
		v, err := internal.ToStarlark(arg)
		if err != nil {
			return nil, fmt.Errorf("argument %d of %s: %w", i, fn.Name(), err)
		}
		tuple[i] = v
	}

	result, err := starlarkLib.Call(m.newThread(ctx, name), fn, tuple, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExecFailed, err)
	}
	return internal.ToGo(result, func(inner starlarkLib.Callable, args ...any) (any, error) {
		return m.call(ctx, name, inner, args...)
	})
}
