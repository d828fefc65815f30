package engine

import "sync"

// entityLocks implements the per-entity at-most-one-concurrent-execution
// guarantee. Acquisition never blocks: a held lock means the caller loses.
type entityLocks struct {
	mu       sync.Mutex
	inFlight map[string]struct{}
}

func newEntityLocks() *entityLocks {
	return &entityLocks{inFlight: make(map[string]struct{})}
}

// tryAcquire returns false when id is already executing.
func (l *entityLocks) tryAcquire(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, held := l.inFlight[id]; held {
		return false
	}
	l.inFlight[id] = struct{}{}
	return true
}

func (l *entityLocks) release(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.inFlight, id)
}
