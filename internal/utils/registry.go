package utils

import (
	"maps"
	"sync"
)

// Registry is a map[K]V guarded by a RWMutex.
// Packages use it to hold implementations selected at runtime by key.
type Registry[K comparable, V any] struct {
	mut     sync.RWMutex
	entries map[K]V
}

// NewRegistry returns an empty Registry[K, V].
func NewRegistry[K comparable, V any]() *Registry[K, V] {
	return &Registry[K, V]{entries: make(map[K]V)}
}

// RegistrySet adds value under key. It errors if key is already in use.
func RegistrySet[K comparable, V any](registry *Registry[K, V], key K, value V) error {
	registry.mut.Lock()
	defer registry.mut.Unlock()
	if _, conflict := registry.entries[key]; conflict {
		return newError("key %v already in use", key)
	}
	registry.entries[key] = value
	return nil
}

// RegistryGet returns the value stored under key and whether it exists.
func RegistryGet[K comparable, V any](registry *Registry[K, V], key K) (V, bool) {
	registry.mut.RLock()
	defer registry.mut.RUnlock()
	rv, ok := registry.entries[key]
	return rv, ok
}

// RegistryEntries returns a copy of the registry content.
func RegistryEntries[K comparable, V any](registry *Registry[K, V]) map[K]V {
	registry.mut.RLock()
	defer registry.mut.RUnlock()
	return maps.Clone(registry.entries)
}
