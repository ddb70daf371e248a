package data

import (
	"context"
	"maps"
)

// StaticProvider returns a fixed map of seed data, known when the script is constructed.
type StaticProvider struct {
	data map[string]any
}

// NewStaticProvider creates a StaticProvider with the provided data.
func NewStaticProvider(data map[string]any) *StaticProvider {
	if data == nil {
		data = make(map[string]any)
	}
	return &StaticProvider{data: data}
}

// GetData returns a shallow copy of the static data, regardless of the context.
func (p *StaticProvider) GetData(_ context.Context) (map[string]any, error) {
	return maps.Clone(p.data), nil
}

// AddDataToContext always fails, static data can't change after construction.
func (p *StaticProvider) AddDataToContext(
	ctx context.Context,
	_ ...map[string]any,
) (context.Context, error) {
	return ctx, ErrStaticProviderNoRuntimeUpdates
}
