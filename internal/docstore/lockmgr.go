package docstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/playerdb/playerdb/internal/records"
)

// lockKey identifies one record file: all operations on the same key are
// serialized.
type lockKey struct {
	owner string
	kind  records.Kind
}

func (k lockKey) String() string {
	return k.owner + "/" + string(k.kind)
}

// keyLock is a channel-based mutex so acquisition can select against a
// deadline and context cancellation.
type keyLock struct {
	ch   chan struct{}
	refs int
}

// lockManager provides in-process mutual exclusion per record file. There is
// no cross-process locking: a storage directory is assumed to have a single
// writer process.
type lockManager struct {
	timeout time.Duration

	mu    sync.Mutex
	locks map[lockKey]*keyLock
}

func newLockManager(timeout time.Duration) *lockManager {
	return &lockManager{
		timeout: timeout,
		locks:   map[lockKey]*keyLock{},
	}
}

// acquire blocks until the key is free, the timeout elapses (ErrLockTimeout)
// or ctx is canceled. On success the returned release function must be called
// on every exit path of the guarded section.
func (m *lockManager) acquire(ctx context.Context, key lockKey) (func(), error) {
	m.mu.Lock()
	l := m.locks[key]
	if l == nil {
		l = &keyLock{ch: make(chan struct{}, 1)}
		m.locks[key] = l
	}
	l.refs++
	m.mu.Unlock()

	t := time.NewTimer(m.timeout)
	defer t.Stop()
	select {
	case l.ch <- struct{}{}:
		return func() {
			<-l.ch
			m.unref(key, l)
		}, nil
	case <-ctx.Done():
		m.unref(key, l)
		return nil, ctx.Err()
	case <-t.C:
		m.unref(key, l)
		return nil, fmt.Errorf("%s: %w", key, ErrLockTimeout)
	}
}

// unref drops a reference and garbage-collects the lock when nobody holds or
// waits on it.
func (m *lockManager) unref(key lockKey, l *keyLock) {
	m.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, key)
	}
	m.mu.Unlock()
}
