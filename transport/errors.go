package transport

import (
	"errors"
	"fmt"
)

// ErrNotOpen is returned by Write before a successful Open.
var ErrNotOpen = errors.New("transport is not open")

// ErrClosed is returned by Write after the link has gone away.
var ErrClosed = errors.New("transport is closed")

// NotFoundError indicates no matching device was discovered.
type NotFoundError struct {
	// Kind is the link that was searched
	Kind Kind

	// Detail describes the search that came up empty
	Detail string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no %s device found: %s", e.Kind, e.Detail)
}

// IsNotFound returns true if the error is a NotFoundError.
func IsNotFound(err error) bool {
	var nfe *NotFoundError
	return errors.As(err, &nfe)
}
