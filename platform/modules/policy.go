package modules

import (
	"fmt"
	"net/url"

	"github.com/bmatcuk/doublestar/v4"
)

// Policy is an allow-list of glob patterns matched against resolved module
// URLs. File URLs are also matched by their path, so patterns such as
// "/srv/modules/**" work. An empty policy allows everything.
type Policy struct {
	patterns []string
}

// NewPolicy validates patterns and returns a policy allowing URLs that match any of them.
func NewPolicy(patterns ...string) (*Policy, error) {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("%w: %q", ErrBadPattern, p)
		}
	}
	return &Policy{patterns: patterns}, nil
}

// Allows reports whether u may be loaded.
func (p *Policy) Allows(u *url.URL) bool {
	if p == nil || len(p.patterns) == 0 {
		return true
	}

	candidates := []string{u.String()}
	if u.Scheme == "file" {
		candidates = append(candidates, u.Path)
	}
	for _, pattern := range p.patterns {
		for _, c := range candidates {
			if ok, _ := doublestar.Match(pattern, c); ok {
				return true
			}
		}
	}
	return false
}

// Patterns returns a copy of the configured patterns.
func (p *Policy) Patterns() []string {
	if p == nil {
		return nil
	}
	return append([]string(nil), p.patterns...)
}
