// Package locker provides exclusive per-wallet locks with a canonical
// multi-wallet acquisition order. It stands in for row-level `SELECT ...
// FOR UPDATE` exclusivity so the engine, not the SQL dialect, owns the
// critical section.
package locker

import (
	"context"
	"sort"
	"sync"
)

// Manager hands out one exclusive lock per wallet id. Locks are created
// lazily and kept for the lifetime of the manager.
type Manager struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewManager constructs an empty lock manager.
func NewManager() *Manager {
	return &Manager{slots: make(map[string]chan struct{})}
}

func (m *Manager) slot(id string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[id]
	if !ok {
		s = make(chan struct{}, 1)
		m.slots[id] = s
	}
	return s
}

// Acquire blocks until the wallet's lock is granted or ctx is done.
func (m *Manager) Acquire(ctx context.Context, id string) error {
	select {
	case m.slot(id) <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees the wallet's lock. Callers must only release locks they
// hold; releasing an unheld lock is a no-op.
func (m *Manager) Release(id string) {
	s := m.slot(id)
	select {
	case <-s:
	default:
	}
}

// AcquireOrdered locks every id in canonical (ascending) order, regardless
// of the order the caller passed them in. The total ordering rules out
// circular wait between operations locking the same pair of wallets in
// opposite logical directions. On failure every lock taken so far is
// released before returning.
func (m *Manager) AcquireOrdered(ctx context.Context, ids ...string) error {
	ordered := canonical(ids)
	for i, id := range ordered {
		if err := m.Acquire(ctx, id); err != nil {
			for j := i - 1; j >= 0; j-- {
				m.Release(ordered[j])
			}
			return err
		}
	}
	return nil
}

// ReleaseAll frees every id acquired through AcquireOrdered.
func (m *Manager) ReleaseAll(ids ...string) {
	for _, id := range canonical(ids) {
		m.Release(id)
	}
}

// canonical returns the ids sorted ascending with duplicates removed.
func canonical(ids []string) []string {
	ordered := make([]string, len(ids))
	copy(ordered, ids)
	sort.Strings(ordered)
	out := ordered[:0]
	for i, id := range ordered {
		if i > 0 && id == ordered[i-1] {
			continue
		}
		out = append(out, id)
	}
	return out
}
