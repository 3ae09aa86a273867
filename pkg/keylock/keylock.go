// Package keylock provides a set of mutexes addressed by string key.
// Entries are reference counted and dropped once no goroutine holds or
// waits on them, so the table does not grow with the number of keys seen.
package keylock

import "sync"

type entry struct {
	mu   sync.RWMutex
	refs int
}

// KeyedMutex serializes callers that share a key. Different keys never block
// each other. The zero value is ready to use.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New creates an empty KeyedMutex.
func New() *KeyedMutex {
	return &KeyedMutex{entries: make(map[string]*entry)}
}

// Lock acquires the mutex for key exclusively and returns the function that
// releases it.
func (k *KeyedMutex) Lock(key string) (unlock func()) {
	e := k.acquire(key)
	e.mu.Lock()
	return k.releaser(key, e, e.mu.Unlock)
}

// RLock acquires the mutex for key in shared mode. Any number of shared
// holders run together; an exclusive Lock on the same key waits for all of them.
func (k *KeyedMutex) RLock(key string) (unlock func()) {
	e := k.acquire(key)
	e.mu.RLock()
	return k.releaser(key, e, e.mu.RUnlock)
}

// Len returns the number of keys currently held or waited on.
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}

func (k *KeyedMutex) acquire(key string) *entry {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.entries == nil {
		k.entries = make(map[string]*entry)
	}
	e, ok := k.entries[key]
	if !ok {
		e = &entry{}
		k.entries[key] = e
	}
	e.refs++
	return e
}

func (k *KeyedMutex) releaser(key string, e *entry, release func()) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			release()

			k.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(k.entries, key)
			}
			k.mu.Unlock()
		})
	}
}
