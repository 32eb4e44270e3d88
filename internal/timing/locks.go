package timing

import "sync"

// keyedLocks hands out one RWMutex per key and forgets it once no caller
// holds or waits on it.
type keyedLocks[K comparable] struct {
	mu    sync.Mutex
	locks map[K]*refLock
}

type refLock struct {
	sync.RWMutex
	refs int
}

func newKeyedLocks[K comparable]() *keyedLocks[K] {
	return &keyedLocks[K]{locks: make(map[K]*refLock)}
}

func (k *keyedLocks[K]) acquire(key K) *refLock {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	return l
}

func (k *keyedLocks[K]) release(key K, l *refLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}

// Lock takes the exclusive lock for key and returns its unlock func.
func (k *keyedLocks[K]) Lock(key K) func() {
	l := k.acquire(key)
	l.Lock()
	return func() {
		l.Unlock()
		k.release(key, l)
	}
}

// RLock takes the shared lock for key and returns its unlock func.
func (k *keyedLocks[K]) RLock(key K) func() {
	l := k.acquire(key)
	l.RLock()
	return func() {
		l.RUnlock()
		k.release(key, l)
	}
}

func (k *keyedLocks[K]) len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
