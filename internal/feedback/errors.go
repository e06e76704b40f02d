package feedback

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a record does not exist (yet).
	ErrNotFound = errors.New("record not found")
	// ErrUnavailable marks failures to reach a collaborator at all.
	ErrUnavailable = errors.New("collaborator unavailable")
	// ErrMalformedRecord is returned when a row cannot be decoded.
	ErrMalformedRecord = errors.New("malformed record")
)

// StatusError carries the transport status of a failed collaborator call.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Status)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Body)
}
