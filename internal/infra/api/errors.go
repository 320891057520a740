package api

import (
	"errors"
	"fmt"
)

// ErrNoToken is returned when no bearer token is available.
var ErrNoToken = errors.New("no auth token available")

// HTTPError is a non-2xx backend response.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("http %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("http %d", e.Status)
}

// HTTPStatus returns the response status code.
func (e *HTTPError) HTTPStatus() int { return e.Status }

// DecodeError is a 2xx response whose body did not match the expected schema.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("decode response: %v", e.Err) }
func (e *DecodeError) Unwrap() error { return e.Err }
