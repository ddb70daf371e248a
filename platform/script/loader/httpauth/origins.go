package httpauth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/bmatcuk/doublestar/v4"
)

type rule struct {
	pattern string
	auth    Authenticator
}

// Origins picks an Authenticator by matching the module URL against glob
// patterns such as "https://cdn.example.com/**". Rules are tried in the
// order they were added; a URL no rule matches is fetched anonymously.
type Origins struct {
	rules []rule
}

// NewOrigins returns an empty set of rules.
func NewOrigins() *Origins {
	return &Origins{}
}

// Add registers auth for URLs matching pattern.
func (o *Origins) Add(pattern string, auth Authenticator) error {
	if !doublestar.ValidatePattern(pattern) {
		return fmt.Errorf("%w: %q", ErrBadPattern, pattern)
	}
	if auth == nil {
		return fmt.Errorf("%w: %q", ErrNoAuthenticator, pattern)
	}
	o.rules = append(o.rules, rule{pattern: pattern, auth: auth})
	return nil
}

// Len returns the number of rules.
func (o *Origins) Len() int {
	if o == nil {
		return 0
	}
	return len(o.rules)
}

// For returns the Authenticator registered for u, or nil.
func (o *Origins) For(u *url.URL) Authenticator {
	if o == nil || u == nil {
		return nil
	}
	target := matchTarget(u)
	for _, r := range o.rules {
		if ok, _ := doublestar.Match(r.pattern, target); ok {
			return r.auth
		}
	}
	return nil
}

func (o *Origins) Authenticate(ctx context.Context, req *http.Request) error {
	auth := o.For(req.URL)
	if auth == nil {
		return ctx.Err()
	}
	return auth.Authenticate(ctx, req)
}

func (o *Origins) Name() string {
	return fmt.Sprintf("Origins(%d)", o.Len())
}

// matchTarget drops userinfo, query and fragment so patterns see only the
// scheme, host and path.
func matchTarget(u *url.URL) string {
	t := url.URL{Scheme: u.Scheme, Host: u.Host, Path: u.Path}
	return t.String()
}
