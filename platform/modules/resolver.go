package modules

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/robbyt/go-jsglobals/internal/helpers"
	"github.com/robbyt/go-jsglobals/platform/script/loader"
	"github.com/robbyt/go-jsglobals/platform/script/loader/httpauth"
)

const hostScheme = "host"

// Source is a fetched module.
type Source struct {
	Specifier string
	URL       *url.URL
	Format    Format
	Body      []byte

	// Host is the registered value of a host module.
	Host any
}

// Config configures a Resolver.
type Config struct {
	// Base is the location relative specifiers resolve against when there
	// is no referrer. Nil means the working directory.
	Base *url.URL

	// Host modules are resolved by exact specifier, before anything else.
	Host map[string]any

	// Policy restricts which URLs may be fetched. Nil allows everything.
	Policy *Policy

	// HTTP configures fetches of http and https modules.
	HTTP *loader.HTTPOptions

	// Credentials override HTTP.Authenticator for the URLs they match.
	// Only URLs the policy allows are ever fetched.
	Credentials *httpauth.Origins

	Handler slog.Handler
}

// Resolver turns specifiers into URLs and fetches them.
type Resolver struct {
	base   *url.URL
	host   map[string]any
	policy *Policy
	http   *loader.HTTPOptions
	creds  *httpauth.Origins
	logger *slog.Logger
}

// NewResolver creates a resolver from cfg.
func NewResolver(cfg Config) (*Resolver, error) {
	_, logger := helpers.SetupLogger(cfg.Handler, "modules", "Resolver")

	base := cfg.Base
	if base == nil {
		wd, err := WorkingDirectory()
		if err != nil {
			return nil, err
		}
		base = wd
	}
	if base.Scheme == "file" && !strings.HasSuffix(base.Path, "/") {
		b := *base
		b.Path += "/"
		base = &b
	}

	httpOpts := cfg.HTTP
	if httpOpts == nil {
		httpOpts = loader.DefaultHTTPOptions()
	}

	return &Resolver{
		base:   base,
		host:   cfg.Host,
		policy: cfg.Policy,
		http:   httpOpts,
		creds:  cfg.Credentials,
		logger: logger,
	}, nil
}

// WorkingDirectory returns the process working directory as a file URL
// ending in a slash.
func WorkingDirectory() (*url.URL, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("reading working directory: %w", err)
	}
	return DirectoryURL(wd), nil
}

// DirectoryURL returns dir as a file URL ending in a slash.
func DirectoryURL(dir string) *url.URL {
	p := filepath.ToSlash(filepath.Clean(dir))
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return &url.URL{Scheme: "file", Path: p}
}

// Base returns the location relative specifiers resolve against.
func (r *Resolver) Base() *url.URL {
	b := *r.base
	return &b
}

// Resolve returns the URL of spec. Relative specifiers resolve against
// referrer when it is a file or http URL, otherwise against the base.
func (r *Resolver) Resolve(spec, referrer string) (*url.URL, error) {
	if spec == "" {
		return nil, fmt.Errorf("%w: empty specifier", ErrBadSpecifier)
	}
	if _, ok := r.host[spec]; ok {
		return &url.URL{Scheme: hostScheme, Opaque: spec}, nil
	}

	var (
		u   *url.URL
		err error
	)
	switch {
	case strings.HasPrefix(spec, "file://"),
		strings.HasPrefix(spec, "http://"),
		strings.HasPrefix(spec, "https://"):
		u, err = url.Parse(spec)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBadSpecifier, err)
		}
	case strings.HasPrefix(spec, "/"):
		u = &url.URL{Scheme: "file", Path: filepath.ToSlash(filepath.Clean(spec))}
	case strings.HasPrefix(spec, "./"), strings.HasPrefix(spec, "../"):
		u = r.referrerBase(referrer).ResolveReference(&url.URL{Path: spec})
	default:
		return nil, fmt.Errorf("%w: %q is not a path, URL or host module", ErrNotFound, spec)
	}

	if !r.policy.Allows(u) {
		return nil, fmt.Errorf("%w: %s", ErrNotAllowed, u)
	}
	return u, nil
}

func (r *Resolver) referrerBase(referrer string) *url.URL {
	if referrer == "" {
		return r.base
	}
	ref, err := url.Parse(referrer)
	if err != nil {
		return r.base
	}
	switch ref.Scheme {
	case "file", "http", "https":
		return ref
	default:
		return r.base
	}
}

// httpOptions returns the fetch options for u, carrying the credentials
// registered for its origin.
func (r *Resolver) httpOptions(u *url.URL, logger *slog.Logger) *loader.HTTPOptions {
	auth := r.creds.For(u)
	if auth == nil {
		return r.http
	}
	logger.Debug("using module credentials", "auth", auth.Name())
	return r.http.WithAuthenticator(auth)
}

// Fetch resolves spec and reads the module body.
func (r *Resolver) Fetch(ctx context.Context, spec, referrer string) (*Source, error) {
	logger := r.logger.With("specifier", spec)

	u, err := r.Resolve(spec, referrer)
	if err != nil {
		return nil, err
	}
	if u.Scheme == hostScheme {
		return &Source{Specifier: spec, URL: u, Format: FormatHost, Host: r.host[u.Opaque]}, nil
	}

	var l loader.Loader
	switch u.Scheme {
	case "file":
		l, err = loader.NewFromDisk(filepath.FromSlash(u.Path))
	case "http", "https":
		l, err = loader.NewFromHTTPWithOptions(u.String(), r.httpOptions(u, logger))
	default:
		err = fmt.Errorf("%w: %s", loader.ErrSchemeUnsupported, u.Scheme)
	}
	if err != nil {
		return nil, err
	}

	body, err := loader.ReadAll(ctx, l)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, u)
		}
		return nil, err
	}

	format := FormatFromPath(u.Path)
	if format == FormatUnknown {
		format = Sniff(body)
	}
	if format == FormatUnknown {
		return nil, fmt.Errorf("%w: can't tell the format of %s", ErrFormat, u)
	}
	logger.DebugContext(ctx, "module fetched", "url", u.String(), "format", format, "bytes", len(body))

	return &Source{Specifier: spec, URL: u, Format: format, Body: body}, nil
}
