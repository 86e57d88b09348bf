package kv

import (
	"context"
	"sync"
)

// Memory is the in-process Store used in tests and when no persistence path
// is configured. Safe for concurrent use.
type Memory struct {
	notifier

	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	old := m.data[key]
	m.data[key] = append([]byte(nil), value...)
	m.mu.Unlock()

	m.publish(Event{Key: key, OldValue: old, NewValue: append([]byte(nil), value...)})
	return nil
}

func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	old, ok := m.data[key]
	delete(m.data, key)
	m.mu.Unlock()

	if ok {
		m.publish(Event{Key: key, OldValue: old})
	}
	return nil
}

func (m *Memory) Subscribe(fn func(Event)) (unsubscribe func()) {
	return m.notifier.Subscribe(fn)
}
