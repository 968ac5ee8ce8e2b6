package remote

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConfigured is returned when the client has no base URL.
	ErrNotConfigured = errors.New("remote store url not configured")
	// ErrMalformedResponse wraps bodies that do not decode into an Envelope.
	ErrMalformedResponse = errors.New("malformed remote store response")
)

// StatusError is a non-200 answer from the remote store.
type StatusError struct {
	Op      string
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s request to remote store failed with status code %d: %s", e.Op, e.Status, e.Message)
}
