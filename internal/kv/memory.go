package kv

import (
	"context"
	"sort"
	"sync"
)

// MemoryBackend keeps values in process memory. It stands in for browser
// storage and is used by tests. A positive quota caps the total stored bytes.
type MemoryBackend struct {
	mu    sync.RWMutex
	data  map[string][]byte
	size  int
	quota int
}

// NewMemoryBackend creates an empty backend. quota <= 0 means unlimited.
func NewMemoryBackend(quota int) *MemoryBackend {
	return &MemoryBackend{data: make(map[string][]byte), quota: quota}
}

func (m *MemoryBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	v, ok := m.data[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (m *MemoryBackend) Set(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.size - len(m.data[key]) + len(value)
	if m.quota > 0 && next > m.quota {
		return ErrQuotaExceeded
	}

	// Copy the value to avoid external modifications.
	buf := make([]byte, len(value))
	copy(buf, value)
	m.data[key] = buf
	m.size = next
	return nil
}

func (m *MemoryBackend) Remove(ctx context.Context, key string) error {
	m.mu.Lock()
	if v, ok := m.data[key]; ok {
		m.size -= len(v)
		delete(m.data, key)
	}
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) Clear(ctx context.Context) error {
	m.mu.Lock()
	m.data = make(map[string][]byte)
	m.size = 0
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) Keys(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	m.mu.RUnlock()
	sort.Strings(keys)
	return keys, nil
}
