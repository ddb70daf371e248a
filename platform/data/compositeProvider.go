package data

import (
	"context"
	"errors"
	"fmt"
	"maps"
)

// CompositeProvider combines multiple providers, with later providers
// overriding values from earlier ones in the chain.
type CompositeProvider struct {
	providers []Provider
}

// NewCompositeProvider creates a provider that queries the given providers in order.
func NewCompositeProvider(providers ...Provider) *CompositeProvider {
	return &CompositeProvider{providers: providers}
}

// GetData deep merges the data of every provider. Returns on the first provider failure.
func (p *CompositeProvider) GetData(ctx context.Context) (map[string]any, error) {
	result := make(map[string]any)
	for i, provider := range p.providers {
		if provider == nil {
			continue
		}
		d, err := provider.GetData(ctx)
		if err != nil {
			return nil, fmt.Errorf("error from provider %d: %w", i, err)
		}
		result = DeepMerge(result, d)
	}
	return result, nil
}

// AddDataToContext distributes data to every provider that accepts runtime data.
// Static providers are skipped. It fails only when no provider accepted the data.
func (p *CompositeProvider) AddDataToContext(
	ctx context.Context,
	data ...map[string]any,
) (context.Context, error) {
	finalCtx := ctx
	var errs []error
	accepted, dynamic := 0, 0

	for i, provider := range p.providers {
		if provider == nil {
			continue
		}
		if _, isStatic := provider.(*StaticProvider); isStatic {
			continue
		}
		dynamic++

		nextCtx, err := provider.AddDataToContext(finalCtx, data...)
		if err != nil {
			errs = append(errs, fmt.Errorf("error from provider %d: %w", i, err))
			continue
		}
		finalCtx = nextCtx
		accepted++
	}

	if dynamic == 0 {
		return ctx, ErrStaticProviderNoRuntimeUpdates
	}
	if accepted == 0 {
		return ctx, errors.Join(errs...)
	}
	return finalCtx, nil
}

// DeepMerge merges dst into a copy of src. Nested maps are merged recursively,
// any other value in dst replaces the one in src.
func DeepMerge(src, dst map[string]any) map[string]any {
	result := maps.Clone(src)
	if result == nil {
		result = make(map[string]any, len(dst))
	}

	for k, dstVal := range dst {
		srcMap, srcIsMap := result[k].(map[string]any)
		dstMap, dstIsMap := dstVal.(map[string]any)
		if srcIsMap && dstIsMap {
			result[k] = DeepMerge(srcMap, dstMap)
			continue
		}
		result[k] = dstVal
	}
	return result
}
