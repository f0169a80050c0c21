package category

import "sync"

// userLocks hands out one mutex per user so taxonomy reads-then-writes are
// serialized per user without blocking other users.
type userLocks struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[int64]*sync.Mutex)}
}

func (l *userLocks) lock(userID int64) *sync.Mutex {
	l.mu.Lock()
	m, exists := l.locks[userID]
	if !exists {
		m = &sync.Mutex{}
		l.locks[userID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m
}
