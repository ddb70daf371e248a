// Package internal converts values between Go and Starlark.
package internal

import (
	"fmt"
	"net/url"

	starlarkLib "go.starlark.net/starlark"
)

// CallFunc invokes a Starlark callable with Go arguments.
type CallFunc func(fn starlarkLib.Callable, args ...any) (any, error)

// ToGo converts a Starlark value to plain Go data. Callables are turned into
// Go functions through call.
func ToGo(v starlarkLib.Value, call CallFunc) (any, error) {
	if v == nil {
		return nil, nil
	}

	switch v := v.(type) {
	case starlarkLib.NoneType:
		return nil, nil
	case starlarkLib.Bool:
		return bool(v), nil
	case starlarkLib.Int:
		if i, ok := v.Int64(); ok {
			return i, nil
		}
		return v.String(), nil
	case starlarkLib.Float:
		return float64(v), nil
	case starlarkLib.String:
		return string(v), nil
	case *starlarkLib.List:
		list := make([]any, 0, v.Len())
		for i := range v.Len() {
			elem, err := ToGo(v.Index(i), call)
			if err != nil {
				return nil, fmt.Errorf("failed to convert list element: %w", err)
			}
			list = append(list, elem)
		}
		return list, nil
	case starlarkLib.Tuple:
		list := make([]any, 0, len(v))
		for _, item := range v {
			elem, err := ToGo(item, call)
			if err != nil {
				return nil, fmt.Errorf("failed to convert tuple element: %w", err)
			}
			list = append(list, elem)
		}
		return list, nil
	case *starlarkLib.Dict:
		dict := make(map[string]any, v.Len())
		for _, item := range v.Items() {
			key, ok := item[0].(starlarkLib.String)
			if !ok {
				key = starlarkLib.String(item[0].String())
			}
			val, err := ToGo(item[1], call)
			if err != nil {
				return nil, fmt.Errorf("failed to convert dict value: %w", err)
			}
			dict[string(key)] = val
		}
		return dict, nil
	case starlarkLib.Callable:
		if call == nil {
			return nil, fmt.Errorf("unsupported Starlark type %T", v)
		}
		fn := v
		return func(args ...any) (any, error) {
			return call(fn, args...)
		}, nil
	default:
		return nil, fmt.Errorf("unsupported Starlark type %T", v)
	}
}

// ToStarlark converts Go data to a Starlark value.
func ToStarlark(v any) (starlarkLib.Value, error) {
	if v == nil {
		return starlarkLib.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlarkLib.Bool(val), nil
	case int:
		return starlarkLib.MakeInt(val), nil
	case int64:
		return starlarkLib.MakeInt64(val), nil
	case float64:
		return starlarkLib.Float(val), nil
	case string:
		return starlarkLib.String(val), nil
	case *url.URL:
		return starlarkLib.String(val.String()), nil
	case []any:
		elements := make([]starlarkLib.Value, len(val))
		for i, elem := range val {
			var err error
			if elements[i], err = ToStarlark(elem); err != nil {
				return nil, fmt.Errorf("failed to convert list element: %w", err)
			}
		}
		return starlarkLib.NewList(elements), nil
	case map[string]any:
		dict := starlarkLib.NewDict(len(val))
		for k, item := range val {
			sv, err := ToStarlark(item)
			if err != nil {
				return nil, fmt.Errorf("failed to convert dict value: %w", err)
			}
			if err := dict.SetKey(starlarkLib.String(k), sv); err != nil {
				return nil, fmt.Errorf("failed to set dict key: %w", err)
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type %T", v)
	}
}
