package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"peer-sync/pkg/model"
)

// MemoryStore is a simple in-memory PeerStore, intended for dev/demo and tests.
// FetchAll returns peers in insertion order.
type MemoryStore struct {
	mu    sync.RWMutex
	peers map[string]model.Peer
	order map[string]int
	seq   int
}

func NewMemoryStore(seed ...model.Peer) *MemoryStore {
	m := &MemoryStore{
		peers: make(map[string]model.Peer),
		order: make(map[string]int),
	}
	for _, p := range seed {
		m.put(p)
	}
	return m
}

func (m *MemoryStore) put(p model.Peer) {
	if _, ok := m.order[p.ID]; !ok {
		m.seq++
		m.order[p.ID] = m.seq
	}
	m.peers[p.ID] = p
}

func (m *MemoryStore) FetchAll(_ context.Context) ([]model.Peer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Peer, 0, len(m.peers))
	for _, p := range m.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return m.order[out[i].ID] < m.order[out[j].ID] })
	return out, nil
}

func (m *MemoryStore) Get(id string) (model.Peer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.peers[id]
	return p, ok
}

func (m *MemoryStore) Create(_ context.Context, p model.Peer) error {
	if p.ID == "" {
		return fmt.Errorf("peer id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.peers[p.ID]; ok {
		return fmt.Errorf("create %s: %w", p.ID, ErrExists)
	}
	m.put(p)
	return nil
}

func (m *MemoryStore) Update(_ context.Context, p model.Peer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.peers[p.ID]; !ok {
		return fmt.Errorf("update %s: %w", p.ID, ErrNotFound)
	}
	m.put(p)
	return nil
}

// Len returns the number of stored peers.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.peers)
}
