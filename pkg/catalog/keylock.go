package catalog

import (
	"sort"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
)

// keyLock hands out one mutex per plugin id. Entries are reference counted
// and dropped once no goroutine holds or waits on them.
type keyLock struct {
	mu    sync.Mutex
	locks map[string]*keyLockEntry
}

type keyLockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyLock() *keyLock {
	return &keyLock{locks: make(map[string]*keyLockEntry)}
}

// Lock acquires the mutex for id and returns its release func.
func (k *keyLock) Lock(id string) func() {
	k.mu.Lock()
	e, ok := k.locks[id]
	if !ok {
		e = &keyLockEntry{}
		k.locks[id] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}

// LockAll acquires the mutexes for every distinct id in ascending order so
// two batches can never deadlock on each other.
func (k *keyLock) LockAll(ids []string) func() {
	distinct := mapset.NewThreadUnsafeSet[string](ids...).ToSlice()
	sort.Strings(distinct)

	releases := make([]func(), 0, len(distinct))
	for _, id := range distinct {
		releases = append(releases, k.Lock(id))
	}
	return func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
}

// size is the number of live entries; used by tests.
func (k *keyLock) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
