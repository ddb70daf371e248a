package wrapper

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"unicode"

	"github.com/bytedance/sonic"
)

const maxSeedDepth = 64

var (
	// ErrSeedValue is returned for seed values that have no JSON form.
	ErrSeedValue = errors.New("seed value is not JSON friendly")
	// ErrSeedKey is returned for seed keys that can't be bound as parameters.
	ErrSeedKey = errors.New("seed key is not a valid identifier")
)

// reserved words can't be used as destructured parameter names.
var reserved = map[string]bool{
	"await": true, "break": true, "case": true, "catch": true, "class": true,
	"const": true, "continue": true, "debugger": true, "default": true,
	"delete": true, "do": true, "else": true, "enum": true, "export": true,
	"extends": true, "false": true, "finally": true, "for": true,
	"function": true, "if": true, "import": true, "in": true,
	"instanceof": true, "new": true, "null": true, "return": true,
	"super": true, "switch": true, "this": true, "throw": true, "true": true,
	"try": true, "typeof": true, "var": true, "void": true, "while": true,
	"with": true, "yield": true, "let": true, "static": true,
	"implements": true, "interface": true, "package": true, "private": true,
	"protected": true, "public": true, "arguments": true, "eval": true,
}

// SeedError names a seed value or key the object-export shape can't carry.
type SeedError struct {
	// Key is the dotted path of the offending value.
	Key string
	// Type is the JavaScript-facing kind of the value, e.g. "function".
	Type string
	Err  error
}

func (e *SeedError) Error() string {
	return fmt.Sprintf("%s: %q has type %s", e.Err, e.Key, e.Type)
}

func (e *SeedError) Unwrap() error {
	return e.Err
}

// EncodeSeed validates seed and returns its sorted keys and JSON text, ready
// for Request.Params and Request.Args. Every offending key is reported.
func EncodeSeed(seed map[string]any) ([]string, string, error) {
	keys := make([]string, 0, len(seed))
	for k := range seed {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var errs []error
	for _, k := range keys {
		if !IsIdentifier(k) {
			errs = append(errs, &SeedError{Key: k, Type: "key", Err: ErrSeedKey})
			continue
		}
		if err := checkValue(k, reflect.ValueOf(seed[k]), 0); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, "", err
	}

	if len(seed) == 0 {
		return keys, "{}", nil
	}
	data, err := sonic.Marshal(seed)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrSeedValue, err)
	}
	return keys, string(data), nil
}

func checkValue(path string, v reflect.Value, depth int) error {
	if depth > maxSeedDepth {
		return &SeedError{Key: path, Type: "cyclic", Err: ErrSeedValue}
	}
	if !v.IsValid() {
		return nil
	}

	switch v.Kind() {
	case reflect.Func:
		return &SeedError{Key: path, Type: "function", Err: ErrSeedValue}
	case reflect.Chan, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128:
		return &SeedError{Key: path, Type: v.Kind().String(), Err: ErrSeedValue}
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return checkValue(path, v.Elem(), depth+1)
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8 {
			return nil
		}
		for i := range v.Len() {
			if err := checkValue(fmt.Sprintf("%s.%d", path, i), v.Index(i), depth+1); err != nil {
				return err
			}
		}
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return &SeedError{Key: path, Type: v.Type().String(), Err: ErrSeedValue}
		}
		iter := v.MapRange()
		for iter.Next() {
			if err := checkValue(path+"."+iter.Key().String(), iter.Value(), depth+1); err != nil {
				return err
			}
		}
	case reflect.Struct:
		t := v.Type()
		for i := range v.NumField() {
			if !t.Field(i).IsExported() {
				continue
			}
			if err := checkValue(path+"."+t.Field(i).Name, v.Field(i), depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

// IsIdentifier reports whether name can be declared as a JavaScript binding.
func IsIdentifier(name string) bool {
	if name == "" || reserved[name] {
		return false
	}
	for i, r := range name {
		switch {
		case r == '$' || r == '_' || unicode.IsLetter(r):
		case i > 0 && unicode.IsDigit(r):
		default:
			return false
		}
	}
	return !strings.ContainsRune(name, '\\')
}
