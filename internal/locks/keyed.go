// Package locks provides an in-process mutex per entity key. Mutating
// operations on the same stream, loan, or idempotency key serialize through
// it before touching the database, so no interleaved partial update is
// observable even when row locking is bypassed by a read.
package locks

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// Keyed is a set of mutexes indexed by string key. The zero value is not
// usable; call NewKeyed.
type Keyed struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewKeyed returns an empty keyed-mutex set.
func NewKeyed() *Keyed {
	return &Keyed{entries: make(map[string]*entry)}
}

// Lock acquires the mutex for key, creating it on first use. It returns the
// unlock function; entries are dropped once no goroutine holds or waits on
// them, so the map does not grow with the keyspace.
func (k *Keyed) Lock(key string) (unlock func()) {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &entry{}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
	}
}
