package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies errors for transport mapping
type ErrorKind string

const (
	ErrorKindValidation ErrorKind = "validation"
	ErrorKindNotFound   ErrorKind = "not_found"
	ErrorKindUpstream   ErrorKind = "upstream"
	ErrorKindAuth       ErrorKind = "auth"
	ErrorKindInternal   ErrorKind = "internal"
)

// Error is a typed error carrying a kind and a user-facing message.
// Err holds the underlying cause, e.g. the provider's error text.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewValidationError reports malformed input
func NewValidationError(format string, args ...interface{}) *Error {
	return &Error{Kind: ErrorKindValidation, Message: fmt.Sprintf(format, args...)}
}

// NewNotFoundError reports a missing or unowned entity
func NewNotFoundError(format string, args ...interface{}) *Error {
	return &Error{Kind: ErrorKindNotFound, Message: fmt.Sprintf(format, args...)}
}

// NewUpstreamError wraps a provider failure
func NewUpstreamError(message string, err error) *Error {
	return &Error{Kind: ErrorKindUpstream, Message: message, Err: err}
}

// NewAuthError reports a failed credential or signature check
func NewAuthError(message string) *Error {
	return &Error{Kind: ErrorKindAuth, Message: message}
}

// KindOf returns the kind of the first *Error in err's chain,
// or ErrorKindInternal when there is none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrorKindInternal
}
