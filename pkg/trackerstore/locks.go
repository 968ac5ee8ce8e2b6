package trackerstore

import "sync"

// sessionLocks hands out one mutex per session id. A lock is dropped from
// the map once nobody holds or waits on it.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*sessionLock)}
}

func (l *sessionLocks) acquireRef(key string) *sessionLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	sl, ok := l.locks[key]
	if !ok {
		sl = &sessionLock{}
		l.locks[key] = sl
	}
	sl.refs++
	return sl
}

func (l *sessionLocks) releaseRef(key string, sl *sessionLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sl.refs--
	if sl.refs == 0 {
		delete(l.locks, key)
	}
}

// Lock blocks until the session's lock is held and returns its release func.
func (l *sessionLocks) Lock(key string) func() {
	sl := l.acquireRef(key)
	sl.mu.Lock()
	return func() {
		sl.mu.Unlock()
		l.releaseRef(key, sl)
	}
}

// TryLock takes the session's lock only if it is free.
func (l *sessionLocks) TryLock(key string) (func(), bool) {
	sl := l.acquireRef(key)
	if !sl.mu.TryLock() {
		l.releaseRef(key, sl)
		return nil, false
	}
	return func() {
		sl.mu.Unlock()
		l.releaseRef(key, sl)
	}, true
}

func (l *sessionLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
