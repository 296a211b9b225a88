package ledger

import (
	"context"
	"errors"
	"sync"
)

var errOffline = errors.New("ledger offline")

// MemoryLedger keeps blobs in process memory. It backs tests and the
// "memory" backend.
type MemoryLedger struct {
	mu        sync.RWMutex
	data      map[string][]byte
	address   string
	available bool
}

func NewMemoryLedger(address string) *MemoryLedger {
	return &MemoryLedger{
		data:      make(map[string][]byte),
		address:   address,
		available: true,
	}
}

// SetAvailable toggles whether the ledger answers requests.
func (m *MemoryLedger) SetAvailable(available bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.available = available
}

func (m *MemoryLedger) IsAvailable(ctx context.Context) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.available && ctx.Err() == nil
}

func (m *MemoryLedger) GetData(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(ctx); err != nil {
		return nil, unavailable("get", key, err)
	}
	return clone(m.data[key]), nil
}

func (m *MemoryLedger) SetData(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return unavailable("set", key, err)
	}
	m.data[key] = clone(value)
	return nil
}

func (m *MemoryLedger) CompareAndSwap(ctx context.Context, key string, prev, next []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return false, unavailable("compare-and-swap", key, err)
	}
	if !sameValue(m.data[key], prev) {
		return false, nil
	}
	m.data[key] = clone(next)
	return true, nil
}

func (m *MemoryLedger) Address() string {
	return m.address
}

func (m *MemoryLedger) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !m.available {
		return errOffline
	}
	return nil
}
