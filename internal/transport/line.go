package transport

import (
	"bufio"
	"io"
	"strings"
)

const (
	// MaxLineSize is the maximum size of a protocol line, including the CRLF terminator.
	MaxLineSize = 512
)

// Transport reads & writes protocol lines.
type Transport interface {
	ReadLine() (string, error)
	WriteLine(line string) error
}

// T aliases Transport
type T = Transport

// RWTransport is a Transport exchanging CRLF terminated lines over an io.Reader & io.Writer.
type RWTransport struct {
	R *bufio.Reader // source from which lines are read.
	W io.Writer     // destination to which lines are written.
}

// NewRWTransport returns an RWTransport that reads from r and writes to w.
func NewRWTransport(r io.Reader, w io.Writer) RWTransport {
	return RWTransport{R: bufio.NewReaderSize(r, MaxLineSize), W: w}
}

// ReadLine returns the next line without its terminator.
// Lines may be terminated by LF or CRLF. It errors with LineTooLongError if the
// line does not fit MaxLineSize.
func (self RWTransport) ReadLine() (string, error) {
	raw, isPrefix, err := self.R.ReadLine()
	if nil != err {
		return "", wrapError(err, "failed reading line")
	}
	if isPrefix {
		// drain the remainder of the oversized line
		for isPrefix && nil == err {
			_, isPrefix, err = self.R.ReadLine()
		}
		return "", newFlagError(LineTooLongError, "line larger than %d", MaxLineSize)
	}

	return string(raw), nil
}

// WriteLine writes line followed by CRLF.
// It errors if line contains a line break or exceeds MaxLineSize.
func (self RWTransport) WriteLine(line string) error {
	if strings.ContainsAny(line, "\r\n") {
		return newError("line contains a line break")
	}
	if len(line)+2 > MaxLineSize {
		return newFlagError(LineTooLongError, "line larger than %d", MaxLineSize)
	}

	_, err := io.WriteString(self.W, line+"\r\n")

	return wrapError(err, "failed writing line") // nil if err is nil
}

var _ Transport = RWTransport{}
