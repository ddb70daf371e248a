// Package loader reads snippet and module sources from strings, disk and HTTP.
package loader

import (
	"context"
	"fmt"
	"io"
	"net/url"
)

// Loader is an interface used to load snippet or module sources.
type Loader interface {
	GetReader() (io.ReadCloser, error)
	GetSourceURL() *url.URL
}

// ContextLoader is implemented by loaders whose reads can be canceled.
type ContextLoader interface {
	Loader
	GetReaderWithContext(ctx context.Context) (io.ReadCloser, error)
}

// ReadAll reads the whole source of a loader, honoring ctx when the loader supports it.
func ReadAll(ctx context.Context, l Loader) ([]byte, error) {
	if l == nil {
		return nil, ErrScriptNotAvailable
	}

	var (
		reader io.ReadCloser
		err    error
	)
	if cl, ok := l.(ContextLoader); ok {
		reader, err = cl.GetReaderWithContext(ctx)
	} else {
		reader, err = l.GetReader()
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = reader.Close() }()

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", l.GetSourceURL(), err)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrInputEmpty, l.GetSourceURL())
	}
	return body, nil
}
