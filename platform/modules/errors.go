package modules

import "errors"

var (
	ErrNotFound     = errors.New("module not found")
	ErrNotAllowed   = errors.New("module not allowed by policy")
	ErrBadPattern   = errors.New("invalid module pattern")
	ErrFormat       = errors.New("unsupported module format")
	ErrBadSpecifier = errors.New("invalid module specifier")
)
