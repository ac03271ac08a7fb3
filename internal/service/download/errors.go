package download

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownLength is returned when the store does not report the archive length.
	ErrUnknownLength = errors.New("could not determine the content length of the archive")
	// ErrShortBody is returned when a chunk body ends before the requested range.
	ErrShortBody = errors.New("chunk body is shorter than the requested range")
)

// TransportError wraps a failed round trip to the store. It is retried.
type TransportError struct {
	// URL is the requested resource.
	URL string
	// Err is the underlying network or read error.
	Err error
}

// Error implements error.
func (e *TransportError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// UnexpectedStatusError reports a response that is neither 200 nor 206. It is retried.
type UnexpectedStatusError struct {
	// URL is the requested resource.
	URL string
	// StatusCode is the HTTP status code received.
	StatusCode int
}

// Error implements error.
func (e *UnexpectedStatusError) Error() string {
	return fmt.Sprintf("fetch %s: unexpected http status %d", e.URL, e.StatusCode)
}
