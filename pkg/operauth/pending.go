package operauth

import (
	"sync"
	"time"
)

// ChallengeExpiry is how long an issued challenge may be answered.
// A response arriving ChallengeExpiry or more after issuance is expired.
const ChallengeExpiry = 180 * time.Second

// PendingChallenge is the server side record of an issued challenge.
// It is held in memory only.
type PendingChallenge struct {
	// ClaimedIdentity is the name of the oper block the challenge was issued for.
	ClaimedIdentity string

	// ExpectedResponse is the decoded expected response.
	ExpectedResponse []byte

	IssuedAt time.Time
}

// expired returns true if the PendingChallenge can not be answered at now.
func (self *PendingChallenge) expired(now time.Time) bool {
	return now.Sub(self.IssuedAt) >= ChallengeExpiry
}

func (self *PendingChallenge) wipe() {
	if nil != self {
		clear(self.ExpectedResponse)
	}
}

// Slot holds the PendingChallenge of a principal.
// Principals embed a Slot and expose it through Principal.ChallengeSlot.
// The zero Slot is ready to use.
type Slot struct {
	mut      sync.Mutex
	pending  *PendingChallenge
	failures int
}

// Pending returns true if the Slot holds a PendingChallenge.
func (self *Slot) Pending() bool {
	self.mut.Lock()
	defer self.mut.Unlock()

	return nil != self.pending
}

// install stores pc in the Slot, wiping the PendingChallenge it replaces.
// It returns true if a PendingChallenge was replaced.
func (self *Slot) install(pc *PendingChallenge) bool {
	self.mut.Lock()
	defer self.mut.Unlock()

	prev := self.pending
	self.pending = pc
	prev.wipe()

	return nil != prev
}

// take removes the PendingChallenge from the Slot and returns it.
func (self *Slot) take() *PendingChallenge {
	self.mut.Lock()
	defer self.mut.Unlock()

	pc := self.pending
	self.pending = nil

	return pc
}

// discard wipes & removes the PendingChallenge, it returns true if there was one.
func (self *Slot) discard() bool {
	pc := self.take()
	pc.wipe()
	return nil != pc
}

// takeExpired removes the PendingChallenge from the Slot if it is expired at now.
func (self *Slot) takeExpired(now time.Time) *PendingChallenge {
	self.mut.Lock()
	defer self.mut.Unlock()

	pc := self.pending
	if nil == pc || !pc.expired(now) {
		return nil
	}
	self.pending = nil

	return pc
}

// Failures returns the number of consecutive failed responses.
func (self *Slot) Failures() int {
	self.mut.Lock()
	defer self.mut.Unlock()

	return self.failures
}

func (self *Slot) addFailure() int {
	self.mut.Lock()
	defer self.mut.Unlock()

	self.failures += 1
	return self.failures
}

func (self *Slot) resetFailures() {
	self.mut.Lock()
	defer self.mut.Unlock()

	self.failures = 0
}
