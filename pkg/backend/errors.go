package backend

import "errors"

var (
	// ErrInvalidRequest marks caller mistakes the HTTP layer answers with 400.
	ErrInvalidRequest = errors.New("invalid request")
)
