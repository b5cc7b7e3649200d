package transport

import (
	"sync"
)

// LimitTransport is a Transport that fails after a certain number of lines have been processed.
//
// LimitTransport is provided to simplify session testing.
type LimitTransport struct {
	Transport
	mut   sync.Mutex
	rsema int
	wsema int
}

// NewLimitTransport returns a new LimitTransport that wraps t.
func NewLimitTransport(t Transport) *LimitTransport {
	return &LimitTransport{Transport: t}
}

// SetReadLimit makes the limit-th ReadLine call, and all following ones, fail.
func (self *LimitTransport) SetReadLimit(limit int) {
	self.mut.Lock()
	defer self.mut.Unlock()

	self.rsema = -limit
}

// SetWriteLimit makes the limit-th WriteLine call, and all following ones, fail.
func (self *LimitTransport) SetWriteLimit(limit int) {
	self.mut.Lock()
	defer self.mut.Unlock()

	self.wsema = -limit
}

// ReadLine errors if SetReadLimit has been exceeded.
// Otherwise the line is read from the underlying Transport.
func (self *LimitTransport) ReadLine() (string, error) {
	self.mut.Lock()
	defer self.mut.Unlock()

	self.rsema += 1
	if 0 == self.rsema {
		self.rsema -= 1 // fail again at next call
		return "", newFlagError(ReadLimitError, "test only")
	}

	return self.Transport.ReadLine()
}

// WriteLine errors if SetWriteLimit has been exceeded.
// Otherwise line is written to the underlying Transport.
func (self *LimitTransport) WriteLine(line string) error {
	self.mut.Lock()
	defer self.mut.Unlock()

	self.wsema += 1
	if 0 == self.wsema {
		self.wsema -= 1 // fail again at next call
		return newFlagError(WriteLimitError, "test only")
	}

	return self.Transport.WriteLine(line)
}

var _ Transport = &LimitTransport{}
