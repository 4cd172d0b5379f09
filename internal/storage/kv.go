// Package storage provides the durable layer that survives power loss: a
// namespaced key-value store and an append-only batch store for sensor
// readings built on top of it.
package storage

import (
	"errors"
	"sync"
)

// ErrKeyNotFound is returned by KV.Get for absent keys.
var ErrKeyNotFound = errors.New("storage: key not found")

// KV is a namespaced durable key-value store. Writes may be buffered until
// Commit; after Commit returns nil the data must survive a restart.
type KV interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Erase(key string) error
	Commit() error
}

// MemKV is an in-memory KV used by tests and as a degraded fallback when no
// durable backend is configured. Commit is a no-op.
type MemKV struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMemKV creates an empty in-memory store.
func NewMemKV() *MemKV {
	return &MemKV{data: make(map[string][]byte)}
}

func (m *MemKV) Get(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MemKV) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	m.data[key] = v
	return nil
}

func (m *MemKV) Erase(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemKV) Commit() error { return nil }
