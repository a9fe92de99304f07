package memory

import (
	"context"
	"sync"
)

// pairLocks hands out one mutex per pair key. Entries are reference counted
// and dropped when no goroutine holds or waits for them.
type pairLocks struct {
	mu    sync.Mutex
	locks map[string]*pairLock
}

type pairLock struct {
	sem  chan struct{}
	refs int
}

func newPairLocks() *pairLocks {
	return &pairLocks{locks: make(map[string]*pairLock)}
}

// acquire blocks until key is free or ctx is done
func (l *pairLocks) acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	pl, ok := l.locks[key]
	if !ok {
		pl = &pairLock{sem: make(chan struct{}, 1)}
		l.locks[key] = pl
	}
	pl.refs++
	l.mu.Unlock()

	select {
	case pl.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(key, pl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-pl.sem
			l.release(key, pl)
		})
	}, nil
}

func (l *pairLocks) release(key string, pl *pairLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pl.refs--
	if pl.refs == 0 {
		delete(l.locks, key)
	}
}

// size reports how many keys are tracked
func (l *pairLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
