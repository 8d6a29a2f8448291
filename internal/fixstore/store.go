package fixstore

import (
	"context"
	"sync"

	"ultra-tracker/internal/race"
)

// Store keeps the runner's latest fix. Put ignores fixes older than the one
// already stored, so concurrent or out-of-order writers cannot roll it back.
type Store interface {
	Put(ctx context.Context, fix race.LiveFix) (bool, error)
	// Latest returns nil when no fix has been stored yet.
	Latest(ctx context.Context) (*race.LiveFix, error)
}

// Memory is an in-process Store.
type Memory struct {
	mu  sync.RWMutex
	fix *race.LiveFix
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Put(_ context.Context, fix race.LiveFix) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fix != nil && fix.CapturedAt.Before(m.fix.CapturedAt) {
		return false, nil
	}
	m.fix = &fix
	return true, nil
}

func (m *Memory) Latest(context.Context) (*race.LiveFix, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.fix == nil {
		return nil, nil
	}
	fix := *m.fix
	return &fix, nil
}
