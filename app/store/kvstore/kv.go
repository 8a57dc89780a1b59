// Package kvstore implements store.Store on top of a key/value capability.
// The whole dataset lives in a few JSON documents under fixed keys, the layout
// the local-storage web client uses, so its exported data can be loaded as is. Two capabilities are provided: Memory for tests and
// single-process demos, and Badger for on-disk persistence.
package kvstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/umputun/laborportal/app/store"
)

// KV is a minimal key/value capability. Get returns store.ErrNotFound for missing keys.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// Memory is an in-process KV, safe for concurrent use
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory makes an empty in-memory KV
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

// Get returns a copy of the value stored under key
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	res := make([]byte, len(v))
	copy(res, v)
	return res, nil
}

// Set stores a copy of value under key
func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	v := make([]byte, len(value))
	copy(v, value)
	m.mu.Lock()
	m.data[key] = v
	m.mu.Unlock()
	return nil
}

// Delete removes key, missing keys are ignored
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

// Keys returns sorted keys with the given prefix
func (m *Memory) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := []string{}
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			res = append(res, k)
		}
	}
	sort.Strings(res)
	return res, nil
}

// Close does nothing for in-memory KV
func (m *Memory) Close() error { return nil }
