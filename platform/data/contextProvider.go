package data

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"

	"github.com/robbyt/go-jsglobals/internal/helpers"
	"github.com/robbyt/go-jsglobals/platform/constants"
)

// ContextProvider retrieves and stores seed data in the context using a specified key.
type ContextProvider struct {
	contextKey constants.ContextKey
}

// NewContextProvider creates a new ContextProvider with the given context key.
func NewContextProvider(contextKey constants.ContextKey) *ContextProvider {
	return &ContextProvider{contextKey: contextKey}
}

// GetData extracts data from the context using the configured context key.
func (p *ContextProvider) GetData(ctx context.Context) (map[string]any, error) {
	if p.contextKey == "" {
		return nil, fmt.Errorf("context key is empty")
	}

	value := ctx.Value(p.contextKey)
	if value == nil {
		return make(map[string]any), nil
	}

	d, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("invalid seed data type: expected map[string]any, got %T", value)
	}
	return d, nil
}

// AddDataToContext merges the provided maps into the data already stored in the context.
// Nested maps are merged recursively, HTTP requests are flattened to maps, and later
// values override earlier ones.
func (p *ContextProvider) AddDataToContext(
	ctx context.Context,
	data ...map[string]any,
) (context.Context, error) {
	if p.contextKey == "" {
		return ctx, fmt.Errorf("context key is empty")
	}

	var errz []error
	toStore := make(map[string]any)
	if existing, ok := ctx.Value(p.contextKey).(map[string]any); ok {
		maps.Copy(toStore, existing)
	}

	for _, dataMap := range data {
		for key, value := range dataMap {
			if key == "" {
				errz = append(errz, fmt.Errorf("empty keys are not allowed"))
				continue
			}
			processed, err := processValue(value)
			if err != nil {
				errz = append(errz, fmt.Errorf("processing value for key '%s': %w", key, err))
				continue
			}
			mergeIntoMap(toStore, key, processed)
		}
	}

	return context.WithValue(ctx, p.contextKey, toStore), errors.Join(errz...)
}

func processValue(value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case *http.Request:
		if v == nil {
			return nil, nil
		}
		return helpers.RequestToMap(v)
	case map[string]any:
		result := make(map[string]any, len(v))
		for k, val := range v {
			if k == "" {
				return nil, fmt.Errorf("empty keys are not allowed in nested maps")
			}
			processed, err := processValue(val)
			if err != nil {
				return nil, fmt.Errorf("processing nested value for key '%s': %w", k, err)
			}
			result[k] = processed
		}
		return result, nil
	default:
		return v, nil
	}
}

func mergeIntoMap(target map[string]any, key string, value any) {
	if newMap, ok := value.(map[string]any); ok {
		if existingMap, ok := target[key].(map[string]any); ok {
			for k, v := range newMap {
				mergeIntoMap(existingMap, k, v)
			}
			return
		}
	}
	target[key] = value
}
