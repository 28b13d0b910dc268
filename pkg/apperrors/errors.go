package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is the service-wide error type. Kind drives HTTP status mapping and
// retry decisions at the call sites that talk to upstream providers.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

type Kind int

const (
	KindValidation Kind = iota
	KindNotFound
	KindUpstreamRetryable
	KindUpstreamFatal
	KindStreamInterrupted
	KindInternal
)

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewValidation(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

func NewNotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

func NewUpstreamRetryable(message string, err error) *Error {
	return &Error{Kind: KindUpstreamRetryable, Message: message, Err: err}
}

func NewUpstreamFatal(message string, err error) *Error {
	return &Error{Kind: KindUpstreamFatal, Message: message, Err: err}
}

func NewStreamInterrupted(err error) *Error {
	return &Error{Kind: KindStreamInterrupted, Message: "stream interrupted", Err: err}
}

// IsRetryable reports whether err represents a transient upstream failure
// (rate limit or server error class) worth another attempt.
func IsRetryable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindUpstreamRetryable
}

func IsStreamInterrupted(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindStreamInterrupted
}

// StatusCode maps an error to the HTTP status used when the response has not
// started streaming yet.
func StatusCode(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
