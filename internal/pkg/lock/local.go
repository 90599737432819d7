package lock

import (
	"context"
	"sync"
	"time"

	"github.com/lk2023060901/glacier-archiver/internal/pkg/logger"
)

// localLocks is a map of named one-slot semaphores. An entry lives while at least one
// goroutine holds or waits for it.
type localLocks struct {
	mu      sync.Mutex
	entries map[string]*localEntry
}

type localEntry struct {
	slot chan struct{}
	refs int
}

func newLocalLocks() *localLocks {
	return &localLocks{entries: make(map[string]*localEntry)}
}

func (l *localLocks) ref(name string) *localEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[name]
	if !ok {
		e = &localEntry{slot: make(chan struct{}, 1)}
		l.entries[name] = e
	}
	e.refs++
	return e
}

func (l *localLocks) unref(name string, e *localEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, name)
	}
}

func (l *localLocks) acquire(ctx context.Context, name string, deadline time.Time) (func(), error) {
	e := l.ref(name)

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case e.slot <- struct{}{}:
		return func() {
			<-e.slot
			l.unref(name, e)
		}, nil
	case <-timer.C:
		l.unref(name, e)
		return nil, ErrLockTimeout
	case <-ctx.Done():
		l.unref(name, e)
		return nil, ctx.Err()
	}
}

func (l *localLocks) renew(_ context.Context, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[name]; ok && len(e.slot) == 1 {
		return nil
	}
	return ErrNotHeld
}

// size is the number of live entries.
func (l *localLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// NewLocal returns a Service whose locks only exclude goroutines of the current process.
func NewLocal(opts Options, log *logger.Logger) *Service {
	return newService("local", newLocalLocks(), opts, log)
}
