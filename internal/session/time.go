package session

import (
	"time"
)

// Clock gives the current time to components that measure elapsed durations.
type Clock interface {
	Now() time.Time
}

// SystemClock is a Clock backed by time.Now.
// The returned times carry a monotonic reading so that elapsed durations are not
// affected by wall clock adjustments.
type SystemClock struct{}

// Now implements Clock.
func (self SystemClock) Now() time.Time {
	return time.Now()
}

var _ Clock = SystemClock{}

// OffsetClock is a Clock that runs Step ahead of its inner Clock.
// It is used to test expiry boundaries without waiting.
type OffsetClock struct {
	Clock
	Step time.Duration
}

// Now implements Clock.
func (self *OffsetClock) Now() time.Time {
	var inner Clock = SystemClock{}
	if nil != self.Clock {
		inner = self.Clock
	}
	return inner.Now().Add(self.Step)
}

// Advance moves the OffsetClock forward by d.
// It errors if d is negative, Clock time never goes backward.
func (self *OffsetClock) Advance(d time.Duration) error {
	if d < 0 {
		return newError("invalid negative step %s", d)
	}
	self.Step += d
	return nil
}

var _ Clock = &OffsetClock{}
