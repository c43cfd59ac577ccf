// Package errors provides the coded error type shared by tracker packages.
// Codes are stable machine-readable reasons the control API maps to HTTP
// statuses; messages are for people.
package errors

import stderrors "errors"

// Error carries a Code alongside a message, optional context fields, and
// the underlying cause.
type Error struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

func (e *Error) Error() string {
	switch {
	case e.Cause == nil:
		return e.Message
	case e.Message == "":
		return e.Cause.Error()
	default:
		return e.Message + ": " + e.Cause.Error()
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error with the same code, so a bare New(code, "") works
// as a sentinel for errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// New returns a coded error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithMetadata returns a coded error with context fields such as
// journey_id or checkpoint.
func WithMetadata(code Code, message string, metadata map[string]string) *Error {
	return &Error{Code: code, Message: message, Metadata: metadata}
}

// Wrap returns a coded error around cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// CodeOf returns the code of the first *Error in err's chain, or
// CodeUnknown when there is none.
func CodeOf(err error) Code {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}
