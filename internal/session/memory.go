package session

import (
	"sync"

	"github.com/google/uuid"
)

const (
	numSlot = 16
)

type slot[V any] struct {
	mut   sync.RWMutex
	store map[uuid.UUID]V
}

// Registry is an in memory table of live sessions indexed by uuid.
// Entries are spread over numSlot independently locked slots.
// The zero Registry is ready to use.
type Registry[V any] struct {
	slots [numSlot]slot[V]
}

func (self *Registry[V]) slotOf(key uuid.UUID) *slot[V] {
	// uuid v4 last byte is random
	return &(self.slots[int(key[15])%numSlot])
}

// Get returns the value indexed by key.
// The bool flag is true if the key exists in the Registry.
func (self *Registry[V]) Get(key uuid.UUID) (V, bool) {
	slot := self.slotOf(key)
	slot.mut.RLock()
	defer slot.mut.RUnlock()

	v, present := slot.store[key]
	return v, present
}

// Pop removes the key from the Registry and returns the associated value.
// The bool flag is true if the key was found in the Registry.
func (self *Registry[V]) Pop(key uuid.UUID) (V, bool) {
	slot := self.slotOf(key)
	slot.mut.Lock()
	defer slot.mut.Unlock()

	v, present := slot.store[key]
	delete(slot.store, key)
	return v, present
}

// Set registers data under key.
// It errors if key is the nil uuid.
func (self *Registry[V]) Set(key uuid.UUID, data V) error {
	if uuid.Nil == key {
		return newError("invalid nil key")
	}

	slot := self.slotOf(key)
	slot.mut.Lock()
	defer slot.mut.Unlock()

	if nil == slot.store {
		slot.store = make(map[uuid.UUID]V)
	}
	slot.store[key] = data

	return nil
}

// Save registers data under a new random key and returns that key.
func (self *Registry[V]) Save(data V) (uuid.UUID, error) {
	key, err := uuid.NewRandom()
	if nil != err {
		return uuid.Nil, newError("failed generating key, got error %v", err)
	}

	return key, self.Set(key, data)
}

// Range calls fn for every entry until fn returns false.
// fn is called without any slot lock held, entries added or removed concurrently
// may or may not be visited.
func (self *Registry[V]) Range(fn func(key uuid.UUID, data V) bool) {
	type entry struct {
		k uuid.UUID
		v V
	}
	for i := range self.slots {
		slot := &(self.slots[i])
		slot.mut.RLock()
		entries := make([]entry, 0, len(slot.store))
		for k, v := range slot.store {
			entries = append(entries, entry{k: k, v: v})
		}
		slot.mut.RUnlock()

		for _, e := range entries {
			if !fn(e.k, e.v) {
				return
			}
		}
	}
}

// Len returns the number of entries in the Registry.
func (self *Registry[V]) Len() int {
	var count int
	for i := range self.slots {
		slot := &(self.slots[i])
		slot.mut.RLock()
		count += len(slot.store)
		slot.mut.RUnlock()
	}
	return count
}
