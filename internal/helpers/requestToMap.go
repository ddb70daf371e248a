package helpers

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
)

// ErrNilRequest is returned when a nil request is converted.
var ErrNilRequest = errors.New("request is nil")

// RequestToMap flattens an http.Request into plain data so it can be used as
// seed data for a snippet. The request body is read and restored.
func RequestToMap(r *http.Request) (map[string]any, error) {
	if r == nil {
		return nil, ErrNilRequest
	}

	u := r.URL
	if u == nil {
		u = &url.URL{Path: "/"}
	}

	var body string
	if r.Body != nil {
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, fmt.Errorf("reading request body: %w", err)
		}
		body = string(raw)
		r.Body = io.NopCloser(bytes.NewReader(raw))
	}

	headers := make(map[string]any, len(r.Header))
	for k, v := range r.Header {
		headers[k] = stringsToAny(v)
	}

	query := make(map[string]any)
	for k, v := range maps.All(u.Query()) {
		query[k] = stringsToAny(v)
	}

	return map[string]any{
		"method":        r.Method,
		"url":           u.String(),
		"host":          r.Host,
		"path":          u.Path,
		"scheme":        u.Scheme,
		"proto":         r.Proto,
		"headers":       headers,
		"query":         query,
		"body":          body,
		"contentLength": r.ContentLength,
		"remoteAddr":    r.RemoteAddr,
	}, nil
}

func stringsToAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
