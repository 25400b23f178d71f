// Package lock provides named, non-blocking mutual exclusion for ingestion
// runs, either inside one process or across processes through Redis.
package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrLocked is returned by Acquire when another holder owns the key.
var ErrLocked = errors.New("lock is held")

// Release gives a lock back. Calling it more than once is harmless.
type Release func(ctx context.Context) error

// Locker hands out exclusive leases on keys. Acquire never waits: it either
// takes the key or returns ErrLocked.
type Locker interface {
	Acquire(ctx context.Context, key string) (Release, error)
}

// Memory is an in-process Locker.
type Memory struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{held: make(map[string]struct{})}
}

func (m *Memory) Acquire(ctx context.Context, key string) (Release, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held[key]; ok {
		return nil, ErrLocked
	}
	m.held[key] = struct{}{}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			m.mu.Lock()
			delete(m.held, key)
			m.mu.Unlock()
		})
		return nil
	}, nil
}
