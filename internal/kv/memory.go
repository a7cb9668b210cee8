package kv

import (
	"context"
	"sync"
)

// Memory is the in-process Backend used by tests, the smoke binary, and
// single-node deployments that accept losing state on restart.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Put(_ context.Context, key string, value []byte) error {
	cp := make([]byte, len(value))
	copy(cp, value)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = cp
	return nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.data[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	return cp, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *Memory) Ping(_ context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

// Len reports the number of stored keys, for diagnostics.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
