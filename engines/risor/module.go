// Package risor evaluates Risor files imported by a snippet. The value of the
// script's final expression becomes the module's default export.
package risor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	risorLib "github.com/risor-io/risor"
	risorCompiler "github.com/risor-io/risor/compiler"
	risorErrors "github.com/risor-io/risor/errz"
	risorObject "github.com/risor-io/risor/object"
	risorParser "github.com/risor-io/risor/parser"

	"github.com/robbyt/go-jsglobals/internal/helpers"
)

var (
	ErrContentNil    = errors.New("risor content is nil")
	ErrCompileFailed = errors.New("risor compilation error")
	ErrExecFailed    = errors.New("risor execution error")
)

// Module runs Risor sources. Create it with New.
type Module struct {
	logger *slog.Logger
}

// New creates a Module logging through handler.
func New(handler slog.Handler) *Module {
	_, logger := helpers.SetupLogger(handler, "risor", "Module")
	return &Module{logger: logger}
}

func (m *Module) String() string {
	return "risor.Module"
}

// Exec compiles and runs src, returning the final expression converted to Go.
func (m *Module) Exec(ctx context.Context, name string, src []byte) (any, error) {
	if src == nil {
		return nil, ErrContentNil
	}
	logger := m.logger.With("module", name)

	code, err := compile(ctx, string(src))
	if err != nil {
		return nil, err
	}

	result, err := risorLib.EvalCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExecFailed, err)
	}
	if result == nil {
		return nil, nil
	}

	switch result.Type() {
	case "error":
		return nil, fmt.Errorf("%w: %s", ErrExecFailed, result.Inspect())
	case "function":
		return nil, fmt.Errorf("%w: function object returned from %s", ErrExecFailed, name)
	}

	logger.DebugContext(ctx, "risor module evaluated", "type", result.Type())
	return toGo(result), nil
}

func compile(ctx context.Context, src string) (*risorCompiler.Code, error) {
	ast, err := risorParser.Parse(ctx, src)
	if err != nil {
		msg := err.Error()
		var friendly risorErrors.FriendlyError
		if errors.As(err, &friendly) {
			msg = friendly.FriendlyErrorMessage()
		}
		return nil, fmt.Errorf("%w: %s", ErrCompileFailed, msg)
	}

	cfg := risorLib.NewConfig()
	code, err := risorCompiler.Compile(ast, risorCompiler.WithGlobalNames(cfg.GlobalNames()))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCompileFailed, err)
	}
	return code, nil
}

func toGo(obj risorObject.Object) any {
	return obj.Interface()
}
