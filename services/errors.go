package services

import (
	"errors"
	"fmt"
)

// Validation errors reject the request before any state changes.
var (
	ErrInvalidRequest    = errors.New("invalid request")
	ErrInvalidExpiration = errors.New("invalid expiration")
	ErrMIMETooLong       = errors.New("mime type too long")
	ErrInvalidURL        = errors.New("invalid url")
)

var (
	ErrURLTooLong         = errors.New("url too long")
	ErrNotFound           = errors.New("not found")
	ErrPermanentlyBlocked = errors.New("content blocked by moderation")
	ErrUnauthorized       = errors.New("invalid management token")
	ErrTooLarge           = errors.New("content too large")
	ErrLengthRequired     = errors.New("remote did not send content length")
)

// PolicyViolation is returned when a request filter matches.
type PolicyViolation struct {
	Reason string
}

func (e *PolicyViolation) Error() string { return e.Reason }

// RemoteError carries a non-success status from a remote fetch.
type RemoteError struct {
	Status int
	URL    string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s returned status %d", e.URL, e.Status)
}

// IsValidation reports whether err should map to 400.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidExpiration) ||
		errors.Is(err, ErrMIMETooLong) ||
		errors.Is(err, ErrInvalidURL)
}
