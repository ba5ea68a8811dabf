package store

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process Store. It is the default backend and the one used by
// most tests; its contents do not survive a restart.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]Entry
	closed  bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]Entry)}
}

// Get returns the entry stored under key.
func (m *Memory) Get(_ context.Context, key string) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return Entry{}, false, ErrClosed
	}
	e, ok := m.entries[key]
	if !ok {
		return Entry{}, false, nil
	}
	return cloneEntry(e), true, nil
}

// Put stores value under key, replacing any previous entry.
func (m *Memory) Put(_ context.Context, key string, value []byte, meta Meta) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.entries[key] = cloneEntry(Entry{Key: key, Value: value, Meta: meta})
	return nil
}

// List returns the entries under prefix ordered by key.
func (m *Memory) List(_ context.Context, prefix string) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	result := make([]Entry, 0)
	for k, e := range m.entries {
		if strings.HasPrefix(k, prefix) {
			result = append(result, cloneEntry(e))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result, nil
}

// Delete removes key. Missing keys are ignored.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	delete(m.entries, key)
	return nil
}

// Close marks the store closed. Further calls return ErrClosed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func cloneEntry(e Entry) Entry {
	e.Value = append([]byte(nil), e.Value...)
	return e
}
