package generic

import (
	"context"
	"sync"
)

// =============================================================================
// LOCKER - Exclusive section per user
// =============================================================================

// Locker serializes read-modify-write sequences on one user's ledgers and
// records. Lift/arrange hold it for the read-add-write of a ledger row;
// Reconcile holds it for the whole forward walk so a concurrent insert
// cannot be skipped or overwritten.
type Locker interface {
	// Lock blocks until the key is held or ctx is done. The returned
	// function releases the lock.
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// UserLockKey is the lock key covering every period of a user.
func UserLockKey(userID UserID) string {
	return "ledger:user:" + string(userID) + ":lock"
}

// KeyedMutex is an in-process Locker.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	ch   chan struct{}
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedEntry)}
}

func (km *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	km.mu.Lock()
	e, ok := km.locks[key]
	if !ok {
		e = &keyedEntry{ch: make(chan struct{}, 1)}
		km.locks[key] = e
	}
	e.refs++
	km.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		km.release(key, e, false)
		return nil, ErrLockTimeout
	}

	var once sync.Once
	return func() {
		once.Do(func() { km.release(key, e, true) })
	}, nil
}

func (km *KeyedMutex) release(key string, e *keyedEntry, held bool) {
	if held {
		<-e.ch
	}
	km.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(km.locks, key)
	}
	km.mu.Unlock()
}
