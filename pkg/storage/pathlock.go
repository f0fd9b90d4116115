package storage

import (
	"slices"
	"sync"
)

// pathLocks hands out one mutex per path. Entries are reference counted and
// dropped once nobody holds or waits for them, so the map only grows with
// the number of paths in flight.
type pathLocks struct {
	mu    sync.Mutex
	locks map[string]*pathLock
}

type pathLock struct {
	mu   sync.Mutex
	refs int
}

func newPathLocks() *pathLocks {
	return &pathLocks{locks: make(map[string]*pathLock)}
}

// lock acquires the locks of all given paths and returns the function that
// releases them. Paths are locked in sorted order so two callers locking
// overlapping sets cannot deadlock.
func (l *pathLocks) lock(paths ...string) (unlock func()) {
	keys := slices.Clone(paths)
	slices.Sort(keys)
	keys = slices.Compact(keys)

	held := make([]*pathLock, 0, len(keys))
	for _, key := range keys {
		l.mu.Lock()
		pl, ok := l.locks[key]
		if !ok {
			pl = &pathLock{}
			l.locks[key] = pl
		}
		pl.refs++
		l.mu.Unlock()

		pl.mu.Lock()
		held = append(held, pl)
	}

	return func() {
		for i := len(keys) - 1; i >= 0; i-- {
			held[i].mu.Unlock()

			l.mu.Lock()
			held[i].refs--
			if held[i].refs == 0 {
				delete(l.locks, keys[i])
			}
			l.mu.Unlock()
		}
	}
}

// size returns the number of tracked paths.
func (l *pathLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
