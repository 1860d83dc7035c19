package kv

import "sync"

var _ Store = (*Memory)(nil)

// Memory keeps values in process memory. A positive quota bounds the total size of
// stored keys and values, mimicking browser storage limits.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
	quota  int
	used   int
}

// MemoryOption configures Memory.
type MemoryOption func(*Memory)

// WithQuota caps the total bytes held by the store. Zero means unlimited.
func WithQuota(bytes int) MemoryOption {
	return func(m *Memory) {
		if bytes > 0 {
			m.quota = bytes
		}
	}
}

// NewMemory creates an empty in-memory store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{values: make(map[string]string)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *Memory) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	used := m.used
	if old, ok := m.values[key]; ok {
		used -= len(key) + len(old)
	}
	used += len(key) + len(value)
	if m.quota > 0 && used > m.quota {
		return ErrQuotaExceeded
	}
	m.values[key] = value
	m.used = used
	return nil
}

func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.values[key]; ok {
		m.used -= len(key) + len(old)
		delete(m.values, key)
	}
	return nil
}
