package httpauth

import (
	"context"
	"encoding/base64"
	"net/http"
)

const authorization = "Authorization"

// Credential is one header carrying a secret.
type Credential struct {
	// Header defaults to Authorization.
	Header string
	Value  string

	scheme string
}

// Bearer sends "Authorization: Bearer <token>".
func Bearer(token string) Credential {
	return Credential{Value: "Bearer " + token, scheme: "Bearer"}
}

// Basic sends RFC 7617 credentials.
func Basic(user, password string) Credential {
	pair := base64.StdEncoding.EncodeToString([]byte(user + ":" + password))
	return Credential{Value: "Basic " + pair, scheme: "Basic"}
}

// APIKey sends key in the named header.
func APIKey(header, key string) Credential {
	return Credential{Header: header, Value: key, scheme: "APIKey"}
}

func (c Credential) Authenticate(ctx context.Context, req *http.Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	header := c.Header
	if header == "" {
		header = authorization
	}
	req.Header.Set(header, c.Value)
	return nil
}

func (c Credential) Name() string {
	if c.scheme != "" {
		return c.scheme
	}
	return "Header"
}

// String keeps the secret out of logs.
func (c Credential) String() string {
	return "httpauth.Credential{" + c.Name() + "}"
}
