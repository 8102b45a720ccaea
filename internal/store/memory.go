package store

import (
	"context"
	"sync"
)

// MemoryKV is an in-process KVStore. Capacity counts key and value bytes of
// all entries together; zero or negative means unbounded.
type MemoryKV struct {
	mu       sync.RWMutex
	capacity int
	data     map[string]string
	failWith error // forced error for every Set, used by tests
}

func NewMemoryKV(capacity int) *MemoryKV {
	return &MemoryKV{
		capacity: capacity,
		data:     make(map[string]string),
	}
}

func (m *MemoryKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryKV) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWith != nil {
		return &StorageError{Op: "set", Key: key, Err: m.failWith}
	}

	if m.capacity > 0 {
		size := len(key) + len(value)
		for k, v := range m.data {
			if k != key {
				size += len(k) + len(v)
			}
		}
		if size > m.capacity {
			return quotaError(key, size, m.capacity)
		}
	}

	m.data[key] = value
	return nil
}

func (m *MemoryKV) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, key)
	return nil
}

// FailWith makes every subsequent Set return err. Pass nil to reset.
func (m *MemoryKV) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}
