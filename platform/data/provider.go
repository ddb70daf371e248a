// Package data supplies seed values for a run from static configuration and from the context.
package data

import (
	"context"
	"errors"
)

// ErrStaticProviderNoRuntimeUpdates is returned when data is added to a StaticProvider.
var ErrStaticProviderNoRuntimeUpdates = errors.New(
	"static provider does not support adding data at runtime",
)

// Getter defines the interface for retrieving seed data from a context.
type Getter interface {
	GetData(ctx context.Context) (map[string]any, error)
}

// Setter prepares seed data for a run by enriching a context.
type Setter interface {
	// AddDataToContext stores data in the returned context, so that a later
	// run with that context receives it as seed values.
	//
	// Example:
	//  ctx, err := script.AddDataToContext(ctx, map[string]any{"request": req})
	//  if err != nil {
	//      return err
	//  }
	//  result, err := script.Run(ctx, nil)
	AddDataToContext(ctx context.Context, data ...map[string]any) (context.Context, error)
}

// Provider defines the interface for accessing seed data for a run.
type Provider interface {
	Getter
	Setter
}
