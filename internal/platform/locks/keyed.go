package locks

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// Keyed hands out one mutex per key with context-bounded acquisition.
// Entries are reference counted and dropped once the last holder releases,
// so the map does not grow with the number of farmers ever seen.
type Keyed struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*entry
}

type entry struct {
	sem  *semaphore.Weighted
	refs int
}

func NewKeyed() *Keyed {
	return &Keyed{entries: make(map[uuid.UUID]*entry)}
}

// Acquire blocks until the key's lock is held or ctx expires. On success the
// returned func releases the lock and must be called exactly once.
func (k *Keyed) Acquire(ctx context.Context, key uuid.UUID) (func(), error) {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &entry{sem: semaphore.NewWeighted(1)}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		k.put(key, e)
		return nil, err
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			e.sem.Release(1)
			k.put(key, e)
		})
	}
	return release, nil
}

func (k *Keyed) put(key uuid.UUID, e *entry) {
	k.mu.Lock()
	e.refs--
	if e.refs <= 0 {
		delete(k.entries, key)
	}
	k.mu.Unlock()
}
