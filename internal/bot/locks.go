package bot

import "sync"

// userLocks serializes context-mutating work per user without a global
// lock: entries are created lazily and released once nobody holds them.
type userLocks struct {
	mu      sync.Mutex
	entries map[int64]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newUserLocks() *userLocks {
	return &userLocks{entries: map[int64]*lockEntry{}}
}

func (l *userLocks) Lock(userID int64) {
	l.mu.Lock()
	entry, ok := l.entries[userID]
	if !ok {
		entry = &lockEntry{}
		l.entries[userID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
}

func (l *userLocks) Unlock(userID int64) {
	l.mu.Lock()
	entry, ok := l.entries[userID]
	if ok {
		entry.refs--
		if entry.refs <= 0 {
			delete(l.entries, userID)
		}
	}
	l.mu.Unlock()

	if ok {
		entry.mu.Unlock()
	}
}
