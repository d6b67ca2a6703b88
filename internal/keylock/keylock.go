// Package keylock provides mutual exclusion at the granularity of a string
// key, so mutations against unrelated impulses or (impulse, requester) pairs
// never contend with each other.
package keylock

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// Map hands out one mutex per key. Entries are reclaimed once the last
// holder unlocks, so the map stays proportional to in-flight operations.
type Map struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New returns an empty lock map.
func New() *Map {
	return &Map{entries: make(map[string]*entry)}
}

// Lock acquires the mutex for key and returns the matching unlock function.
func (m *Map) Lock(key string) func() {
	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok {
		e = &entry{}
		m.entries[key] = e
	}
	e.refs++
	m.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		m.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(m.entries, key)
		}
		m.mu.Unlock()
	}
}
