package protocols

import (
	"errors"

	"code.kerpass.org/operchal/internal/utils"
)

// errorFlag is a private error type that allows declaring error constants.
type errorFlag string

const (
	// All package errors are wrapping Error
	Error = errorFlag("protocols: error")

	// OK is wrapped by errors used to signal protocol completion.
	OK = errorFlag("protocols: OK")

	// ErrNotAllowed flags events that the current state does not accept.
	ErrNotAllowed = errorFlag("protocols: event not allowed")

	noError = errorFlag("")
)

// Error implements the error interface.
func (self errorFlag) Error() string {
	return string(self)
}

func (self errorFlag) Unwrap() error {
	if Error == self || noError == self {
		return nil
	}
	return Error
}

// IsError tests if err is a failure, that is not nil and not wrapping OK.
func IsError(err error) bool {
	return (nil != err) && !errors.Is(err, OK)
}

// newError returns a utils.RaisedErr{} that contains file & line of where it was called.
func newError(msg string, args ...any) error {
	return utils.NewError(1, Error, msg, args...)
}

// wrapError returns a utils.RaisedErr{} that contains file & line of where it was called.
func wrapError(cause error, msg string, args ...any) error {
	return utils.WrapError(cause, 1, Error, msg, args...)
}

// newFlagError is newError with a flag more specific than Error.
func newFlagError(flag errorFlag, msg string, args ...any) error {
	return utils.NewError(1, flag, msg, args...)
}

// wrapFlagError is wrapError with a flag more specific than Error.
func wrapFlagError(flag errorFlag, cause error, msg string, args ...any) error {
	return utils.WrapError(cause, 1, flag, msg, args...)
}
