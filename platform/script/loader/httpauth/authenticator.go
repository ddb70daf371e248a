// Package httpauth attaches credentials to module fetches. Credentials are
// chosen per origin with the glob syntax of the module allow-list, so a
// secret only reaches the hosts it was registered for.
package httpauth

import (
	"context"
	"errors"
	"net/http"
)

var (
	ErrBadPattern      = errors.New("invalid credential pattern")
	ErrNoAuthenticator = errors.New("no authenticator for credential pattern")
)

// Authenticator adds credentials to an outgoing module request.
type Authenticator interface {
	// Authenticate sets the credentials on req, failing when ctx is done.
	Authenticate(ctx context.Context, req *http.Request) error

	// Name describes the scheme without revealing the secret.
	Name() string
}
