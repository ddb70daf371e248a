package loader

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/robbyt/go-jsglobals/platform/script/loader/httpauth"
)

const userAgent = "go-jsglobals/http-loader"

// HTTPOptions contains configuration options for the HTTP loader.
// Use DefaultHTTPOptions() to get sensible defaults, then modify as needed.
//
// Example:
//
//	options := loader.DefaultHTTPOptions()
//	options.Timeout = 10 * time.Second
//	options.Authenticator = httpauth.Bearer("token123")
type HTTPOptions struct {
	// Timeout limits each attempt made by the client.
	Timeout time.Duration

	// TLSConfig specifies the TLS configuration to use.
	TLSConfig *tls.Config

	// InsecureSkipVerify skips TLS certificate verification. Test environments only.
	InsecureSkipVerify bool

	// Authenticator is applied to every request. Nil sends no credentials;
	// use httpauth.Origins to vary them by URL.
	Authenticator httpauth.Authenticator

	// Headers are added to every request, before authentication.
	Headers map[string]string

	// RetryMax is the number of retries after the first attempt.
	RetryMax int

	// RetryWaitMin and RetryWaitMax bound the backoff between attempts.
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// DefaultHTTPOptions returns default options for the HTTP loader.
//
// Default values:
// - Timeout: 30 seconds
// - Authenticator: none
// - RetryMax: 3, waiting between 100ms and 2s
func DefaultHTTPOptions() *HTTPOptions {
	return &HTTPOptions{
		Timeout:      30 * time.Second,
		Headers:      make(map[string]string),
		RetryMax:     3,
		RetryWaitMin: 100 * time.Millisecond,
		RetryWaitMax: 2 * time.Second,
	}
}

// FromHTTP implements a loader for HTTP/HTTPS URLs, retrying transient failures.
type FromHTTP struct {
	url       string
	sourceURL *url.URL
	options   *HTTPOptions
	client    *retryablehttp.Client
}

// NewFromHTTP creates a new HTTP loader with the given URL and default options.
func NewFromHTTP(rawURL string) (*FromHTTP, error) {
	return NewFromHTTPWithOptions(rawURL, DefaultHTTPOptions())
}

// NewFromHTTPWithOptions creates a new HTTP loader with the given URL and custom options.
//
// Example:
//
//	options := loader.DefaultHTTPOptions()
//	options.Authenticator = httpauth.Basic("user", "pass")
//	l, err := loader.NewFromHTTPWithOptions("https://example.com/lib.js", options)
func NewFromHTTPWithOptions(rawURL string, options *HTTPOptions) (*FromHTTP, error) {
	sourceURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse URL: %w", err)
	}

	if sourceURL.Scheme != "http" && sourceURL.Scheme != "https" {
		return nil, fmt.Errorf("%w: %s", ErrSchemeUnsupported, rawURL)
	}

	if options == nil {
		options = DefaultHTTPOptions()
	}

	client := retryablehttp.NewClient()
	client.Logger = nil
	client.RetryMax = options.RetryMax
	if options.RetryWaitMin > 0 {
		client.RetryWaitMin = options.RetryWaitMin
	}
	if options.RetryWaitMax > 0 {
		client.RetryWaitMax = options.RetryWaitMax
	}
	client.HTTPClient.Timeout = options.Timeout

	if options.InsecureSkipVerify || options.TLSConfig != nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if options.TLSConfig != nil {
			transport.TLSClientConfig = options.TLSConfig
		} else {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		client.HTTPClient.Transport = transport
	}

	return &FromHTTP{
		url:       rawURL,
		sourceURL: sourceURL,
		options:   options,
		client:    client,
	}, nil
}

// GetReader returns a reader for the HTTP content.
func (l *FromHTTP) GetReader() (io.ReadCloser, error) {
	return l.GetReaderWithContext(context.Background())
}

// GetReaderWithContext fetches the content, stopping retries when ctx is done.
// The returned io.ReadCloser must be closed by the caller.
func (l *FromHTTP) GetReaderWithContext(ctx context.Context) (io.ReadCloser, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range l.options.Headers {
		req.Header.Set(key, value)
	}
	if auth := l.options.Authenticator; auth != nil {
		if err := auth.Authenticate(ctx, req.Request); err != nil {
			return nil, fmt.Errorf("failed to authenticate request: %w", err)
		}
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", userAgent)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute HTTP request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_ = resp.Body.Close()
		return nil, fmt.Errorf(
			"%w: HTTP %d - %s",
			ErrScriptNotAvailable,
			resp.StatusCode,
			resp.Status,
		)
	}
	return resp.Body, nil
}

// GetSourceURL returns the source URL.
func (l *FromHTTP) GetSourceURL() *url.URL {
	return l.sourceURL
}

func (l *FromHTTP) String() string {
	auth := "none"
	if l.options.Authenticator != nil {
		auth = l.options.Authenticator.Name()
	}
	return fmt.Sprintf("loader.FromHTTP{URL: %s, Auth: %s}", l.url, auth)
}

// WithAuthenticator returns a copy of o sending auth instead.
func (o *HTTPOptions) WithAuthenticator(auth httpauth.Authenticator) *HTTPOptions {
	c := *o
	c.Authenticator = auth
	return &c
}
