package operauth

import (
	"code.kerpass.org/operchal/internal/utils"
)

// errorFlag is a private error type that allows declaring error constants.
type errorFlag string

const (
	// All package errors are wrapping Error
	Error = errorFlag("operauth: error")

	// ErrConfiguration flags missing or unusable oper blocks.
	ErrConfiguration = errorFlag("operauth: configuration error")

	// ErrTransportPolicy flags principals whose connection does not satisfy TLS requirements.
	ErrTransportPolicy = errorFlag("operauth: transport policy error")

	// ErrCrypto flags challenge generation or response derivation failures.
	ErrCrypto = errorFlag("operauth: crypto error")

	// ErrProtocolState flags responses that can not be accepted in the current state.
	ErrProtocolState = errorFlag("operauth: protocol state error")

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

// newFlagError is newError with a flag more specific than Error.
func newFlagError(flag errorFlag, msg string, args ...any) error {
	return utils.NewError(1, flag, msg, args...)
}

// wrapFlagError is wrapError with a flag more specific than Error.
func wrapFlagError(flag errorFlag, cause error, msg string, args ...any) error {
	return utils.WrapError(cause, 1, flag, msg, args...)
}
