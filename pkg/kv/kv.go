// Package kv holds the small durable key-value stores used to persist engine state
// (sync status, sync history, sync configuration) across restarts.
package kv

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Store persists opaque blobs by key. Implementations must make Put durable before returning.
type Store interface {
	Get(key string) ([]byte, bool, error)
	Put(key string, value []byte) error
}

// GetJSON decodes the blob at key into v. It reports false when the key is absent.
func GetJSON(s Store, key string, v interface{}) (bool, error) {
	b, ok, err := s.Get(key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// PutJSON encodes v and stores it at key.
func PutJSON(s Store, key string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Put(key, b)
}

// MemoryStore keeps blobs in process memory; state is lost on restart.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (m *MemoryStore) Get(key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), b...), true, nil
}

func (m *MemoryStore) Put(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

// Open returns the KV backend named by kind: memory|sqlite|consul.
func Open(kind, path, consulAddr string) (Store, error) {
	switch kind {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return OpenSQLite(path)
	case "consul":
		return NewConsulStore(consulAddr), nil
	default:
		return nil, fmt.Errorf("unsupported state store: %s", kind)
	}
}
