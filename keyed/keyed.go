// Package keyed provides per-key mutual exclusion.
// Keeping it in a tiny package avoids import cycles between the ledger
// and attendance packages, which both need per-key critical sections.
package keyed

import "sync"

// Mutex serializes callers that share the same key while letting callers
// with different keys proceed concurrently. Lock entries are created on
// first use and kept for the lifetime of the Mutex; the key space here
// (tenant/employee/category tuples) is small and bounded per process.
type Mutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewMutex() *Mutex {
	return &Mutex{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the lock for key, blocking until it is available.
func (m *Mutex) Lock(key string) {
	m.lockFor(key).Lock()
}

// Unlock releases the lock for key. It must be held.
func (m *Mutex) Unlock(key string) {
	m.lockFor(key).Unlock()
}

func (m *Mutex) lockFor(key string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	return l
}
