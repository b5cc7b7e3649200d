package utils

import (
	"fmt"
	"path"
	"runtime"
)

// RaisedErr is an error type that records where the error was raised.
// All errors returned by operchal packages are RaisedErr instances.
//
// Each package declares a private errorFlag type and a set of **constant** flags.
// The flag assigned to a RaisedErr lets callers classify it with errors.Is.
type RaisedErr struct {
	// Flag classifies the error.
	Flag error

	// Cause is the error that triggered the RaisedErr{}, if any.
	Cause error

	// Msg describes what happened.
	Msg string

	// Filename is the source file containing the code that raised the error.
	Filename string

	// Line is the line in Filename where the error was raised.
	Line int
}

// Error implements the error interface.
func (self RaisedErr) Error() string {
	if nil == self.Cause {
		return fmt.Sprintf("%s: %s\n  file: %s line: %d", path.Dir(self.Filename), self.Msg, self.Filename, self.Line)
	}
	return fmt.Sprintf("%s: %s\n  file: %s line: %d\n%v", path.Dir(self.Filename), self.Msg, self.Filename, self.Line, self.Cause)
}

// Unwrap returns the Flag & Cause of the RaisedErr.
func (self RaisedErr) Unwrap() []error {
	rv := make([]error, 0, 2)
	if nil != self.Flag {
		rv = append(rv, self.Flag)
	}
	if nil != self.Cause {
		rv = append(rv, self.Cause)
	}
	return rv
}

// NewError returns a RaisedErr{} holding the file & line of its caller.
//
// skip controls Caller frame resolution, use 0 when calling NewError directly,
// 1 when calling it from a package level newError helper...
func NewError(skip int, flag error, msg string, args ...any) error {
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	err := RaisedErr{Flag: flag, Msg: msg}
	addCallerFileLine(skip, &err)
	return err
}

// WrapError returns a RaisedErr{} holding cause and the file & line of its caller.
// WrapError returns nil if cause is nil.
//
// skip has the same meaning as in NewError.
func WrapError(cause error, skip int, flag error, msg string, args ...any) error {
	if nil == cause {
		return nil
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	err := RaisedErr{Flag: flag, Cause: cause, Msg: msg}
	addCallerFileLine(skip, &err)
	return err
}

func addCallerFileLine(skip int, err *RaisedErr) {
	_, filename, line, ok := runtime.Caller(2 + skip)
	dirname, filename := path.Split(filename)
	if ok {
		err.Filename = path.Join(path.Base(dirname), filename)
		err.Line = line
	}
}

// errorFlag is the private flag type used by the utils package itself.
type errorFlag string

const (
	// Error is wrapped by all the errors raised by the utils package.
	Error   = errorFlag("utils: error")
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

func newError(msg string, args ...any) error {
	return NewError(1, Error, msg, args...)
}
