package remote

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNetwork matches every *Error: a transport failure or a non-2xx reply.
	ErrNetwork = errors.New("remote: network failure")
	// ErrUnauthorized is the service's "session timed out" reply.
	ErrUnauthorized = errors.New("remote: session timed out")
	// ErrConflict is returned when a save requests a version the service
	// already holds.
	ErrConflict = errors.New("remote: version conflict")
	// ErrNotFound is a 404 reply.
	ErrNotFound = errors.New("remote: not found")
	// ErrValidation is returned before any network call for bad input.
	ErrValidation = errors.New("remote: validation failed")
)

// Error describes a failed call to the document service.
type Error struct {
	Op     string
	Status int    // 0 for transport failures
	Detail string // service supplied reason, if any
	Err    error  // transport error, if any
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("remote: %s: %v", e.Op, e.Err)
	case e.Detail != "":
		return fmt.Sprintf("remote: %s: %d %s", e.Op, e.Status, e.Detail)
	}
	return fmt.Sprintf("remote: %s: %d %s", e.Op, e.Status, http.StatusText(e.Status))
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrNetwork:
		return true
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	case ErrConflict:
		return e.Status == http.StatusConflict
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	}
	return false
}

// Timeout is the detail the service sends with an expired credential.
const Timeout = "User Session Timed Out"
