// Package classifier maps raw transport and HTTP failures into a closed
// taxonomy of error kinds. Classification happens once, at the network
// boundary; everything upstream consumes the classified error and never
// re-inspects raw transport detail.
package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"

	"github.com/movingmountains/driversync/internal/infra/api"
)

// Kind is the closed set of failure categories.
type Kind string

const (
	KindNetwork     Kind = "network"
	KindTimeout     Kind = "timeout"
	KindOffline     Kind = "offline"
	KindAuth        Kind = "auth"
	KindConflict    Kind = "conflict"
	KindNotFound    Kind = "not_found"
	KindValidation  Kind = "validation"
	KindServerFault Kind = "server_fault"
	KindUnknown     Kind = "unknown"
)

// Error is a normalized failure carrying a taxonomy kind and a retryable
// flag. It is created fresh on every failure and never persisted.
type Error struct {
	Kind      Kind
	Retryable bool
	Message   string
	JobID     int64
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Context carries the request context the classifier needs for messaging.
type Context struct {
	JobID     int64
	Operation string
}

type statusCoder interface {
	HTTPStatus() int
}

// Classify maps err into the taxonomy. It is pure: it performs no I/O and
// triggers no side effects; the caller acts on the result.
func Classify(err error, rctx Context) *Error {
	if err == nil {
		return nil
	}

	var already *Error
	if errors.As(err, &already) {
		return already
	}

	if sc, ok := statusCode(err); ok {
		return classifyStatus(sc, err, rctx)
	}

	var decodeErr *api.DecodeError
	if errors.As(err, &decodeErr) {
		// A schema mismatch will not fix itself on retry.
		return &Error{
			Kind:    KindValidation,
			Message: "Received an unexpected response from the server",
			JobID:   rctx.JobID,
			Err:     err,
		}
	}

	if errors.Is(err, api.ErrNoToken) {
		return &Error{
			Kind:    KindAuth,
			Message: "Authentication required",
			JobID:   rctx.JobID,
			Err:     err,
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{
			Kind:      KindTimeout,
			Retryable: true,
			Message:   "The request timed out",
			JobID:     rctx.JobID,
			Err:       err,
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{
			Kind:      KindTimeout,
			Retryable: true,
			Message:   "The request timed out",
			JobID:     rctx.JobID,
			Err:       err,
		}
	}

	if notConnected(err) {
		return &Error{
			Kind:      KindOffline,
			Retryable: true,
			Message:   "No internet connection",
			JobID:     rctx.JobID,
			Err:       err,
		}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return &Error{
			Kind:      KindNetwork,
			Retryable: true,
			Message:   "A network error occurred",
			JobID:     rctx.JobID,
			Err:       err,
		}
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return &Error{
			Kind:    KindValidation,
			Message: "Received an unexpected response from the server",
			JobID:   rctx.JobID,
			Err:     err,
		}
	}

	// Fail safe: unknown failures do not spin forever.
	return &Error{
		Kind:    KindUnknown,
		Message: "An unknown error occurred",
		JobID:   rctx.JobID,
		Err:     err,
	}
}

func classifyStatus(status int, err error, rctx Context) *Error {
	switch {
	case status == http.StatusUnauthorized:
		return &Error{
			Kind:    KindAuth,
			Message: "Your session has expired. Please log in again",
			JobID:   rctx.JobID,
			Err:     err,
		}
	case status == http.StatusForbidden:
		return &Error{
			Kind:    KindValidation,
			Message: "You are not allowed to perform this action",
			JobID:   rctx.JobID,
			Err:     err,
		}
	case status == http.StatusNotFound:
		return &Error{
			Kind:    KindNotFound,
			Message: "The requested job no longer exists",
			JobID:   rctx.JobID,
			Err:     err,
		}
	case status == http.StatusConflict:
		msg := "The job was changed elsewhere and this update no longer applies"
		if rctx.JobID != 0 {
			msg = fmt.Sprintf("Job #%d has already been claimed by another driver", rctx.JobID)
		}
		return &Error{
			Kind:    KindConflict,
			Message: msg,
			JobID:   rctx.JobID,
			Err:     err,
		}
	case status == http.StatusRequestTimeout:
		return &Error{
			Kind:      KindTimeout,
			Retryable: true,
			Message:   "The request timed out",
			JobID:     rctx.JobID,
			Err:       err,
		}
	case status >= 500 && status <= 599:
		return &Error{
			Kind:      KindServerFault,
			Retryable: true,
			Message:   fmt.Sprintf("Server error (%d). Please try again", status),
			JobID:     rctx.JobID,
			Err:       err,
		}
	default:
		return &Error{
			Kind:    KindUnknown,
			Message: fmt.Sprintf("Unexpected response (%d)", status),
			JobID:   rctx.JobID,
			Err:     err,
		}
	}
}

func statusCode(err error) (int, bool) {
	var sc statusCoder
	if errors.As(err, &sc) {
		return sc.HTTPStatus(), true
	}
	return 0, false
}

// notConnected detects transport-level "no route to the backend" failures.
func notConnected(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	for _, errno := range []syscall.Errno{
		syscall.ECONNREFUSED,
		syscall.ENETUNREACH,
		syscall.ENETDOWN,
		syscall.EHOSTUNREACH,
	} {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}
