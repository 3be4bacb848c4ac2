package store

import (
	"sort"
	"sync"
)

// Memory is a bounded in-memory store. It is safe for concurrent use.
type Memory struct {
	mu       sync.RWMutex
	entries  map[uint32]uint32
	capacity int
}

// NewMemory creates a store holding at most capacity entries. A capacity of
// zero or less means DefaultCapacity.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Memory{
		entries:  make(map[uint32]uint32, capacity),
		capacity: capacity,
	}
}

// Update implements Store.
func (m *Memory) Update(key, value uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[key]; !ok && len(m.entries) >= m.capacity {
		return ErrFull
	}
	m.entries[key] = value
	return nil
}

// Fetch implements Store.
func (m *Memory) Fetch(key uint32) (uint32, error) {
	m.mu.RLock()
	v, ok := m.entries[key]
	m.mu.RUnlock()
	if ok {
		return v, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.entries[key]; ok {
		return v, nil
	}
	if len(m.entries) >= m.capacity {
		return 0, ErrFull
	}
	m.entries[key] = 0
	return 0, nil
}

// Range implements Store.
func (m *Memory) Range(fn func(key, value uint32) bool) error {
	m.mu.RLock()
	keys := make([]uint32, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	snapshot := make(map[uint32]uint32, len(m.entries))
	for k, v := range m.entries {
		snapshot[k] = v
	}
	m.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, k := range keys {
		if !fn(k, snapshot[k]) {
			break
		}
	}
	return nil
}

// Len implements Store.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Capacity returns the maximum number of entries.
func (m *Memory) Capacity() int {
	return m.capacity
}

// Reset removes all entries.
func (m *Memory) Reset() {
	m.mu.Lock()
	m.entries = make(map[uint32]uint32, m.capacity)
	m.mu.Unlock()
}
