package converter

import "sync"

// keyLocks hands out one mutex per field id. Locks are never removed; the
// number of fields bounds the map.
type keyLocks struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[int64]*sync.Mutex)}
}

func (k *keyLocks) lock(id int64) func() {
	k.mu.Lock()
	l, ok := k.locks[id]
	if !ok {
		l = &sync.Mutex{}
		k.locks[id] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}
