package session

import "sync"

// Locks serializes work per conversation id. Concurrent webhook deliveries for
// different visitors proceed in parallel; two events for the same visitor are
// applied one at a time.
type Locks struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

// NewLocks creates an empty lock table.
func NewLocks() *Locks {
	return &Locks{locks: make(map[string]*refLock)}
}

// Lock acquires the lock for id and returns the release function. Entries are
// removed once the last holder releases, so the table does not grow with the
// session population.
func (l *Locks) Lock(id string) func() {
	l.mu.Lock()
	entry, ok := l.locks[id]
	if !ok {
		entry = &refLock{}
		l.locks[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
