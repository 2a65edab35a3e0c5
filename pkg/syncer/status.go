package syncer

import (
	"sort"
	"sync"
	"time"

	"peer-sync/pkg/kv"
	"peer-sync/pkg/logs"
	"peer-sync/pkg/model"
)

// MaxHistory bounds the history log; older entries are evicted first.
const MaxHistory = 50

const (
	statusKey  = "sync_status"
	historyKey = "sync_history"
)

// EventType tells subscribers what changed.
type EventType string

const (
	EventStatus  EventType = "sync_status"
	EventHistory EventType = "sync_history"
)

// Event is delivered to subscribers after every mutation.
type Event struct {
	Type    EventType                `json:"type"`
	Status  *model.SyncStatus        `json:"status,omitempty"`
	History []model.SyncHistoryEntry `json:"history,omitempty"`
}

// StatusPatch updates only the fields that are set.
type StatusPatch struct {
	IsRunning      *bool
	LastSync       *time.Time
	LastError      *string
	ClearLastError bool
	Direction      *model.Direction
	PendingChanges *int
}

// StatusStore owns the sync status singleton and the bounded history log.
// Every mutation is persisted before subscribers are notified and before it returns.
type StatusStore struct {
	mu      sync.RWMutex
	kv      kv.Store
	status  model.SyncStatus
	history []model.SyncHistoryEntry

	subMu  sync.Mutex
	subs   map[int]func(Event)
	nextID int
}

// NewStatusStore loads persisted state from s, falling back to defaults.
// A persisted is_running flag is cleared since no pass survives a restart.
func NewStatusStore(s kv.Store) *StatusStore {
	st := &StatusStore{kv: s, subs: make(map[int]func(Event))}
	if _, err := kv.GetJSON(s, statusKey, &st.status); err != nil {
		logs.Logger.Warnf("sync status load failed, using defaults: %v", err)
		st.status = model.SyncStatus{}
	}
	st.status.IsRunning = false
	if _, err := kv.GetJSON(s, historyKey, &st.history); err != nil {
		logs.Logger.Warnf("sync history load failed, starting empty: %v", err)
		st.history = nil
	}
	if len(st.history) > MaxHistory {
		st.history = st.history[:MaxHistory]
	}
	return st
}

func (s *StatusStore) GetStatus() model.SyncStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *StatusStore) UpdateStatus(p StatusPatch) error {
	s.mu.Lock()
	if p.IsRunning != nil {
		s.status.IsRunning = *p.IsRunning
	}
	if p.LastSync != nil {
		ts := *p.LastSync
		s.status.LastSync = &ts
	}
	if p.ClearLastError {
		s.status.LastError = nil
	}
	if p.LastError != nil {
		msg := *p.LastError
		s.status.LastError = &msg
	}
	if p.Direction != nil {
		d := *p.Direction
		s.status.Direction = &d
	}
	if p.PendingChanges != nil {
		s.status.PendingChanges = *p.PendingChanges
	}
	snapshot := s.status
	err := kv.PutJSON(s.kv, statusKey, snapshot)
	s.mu.Unlock()

	s.notify(Event{Type: EventStatus, Status: &snapshot})
	return err
}

// GetHistory returns entries newest first.
func (s *StatusStore) GetHistory() []model.SyncHistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.SyncHistoryEntry(nil), s.history...)
}

func (s *StatusStore) AppendHistory(entry model.SyncHistoryEntry) error {
	s.mu.Lock()
	h := make([]model.SyncHistoryEntry, 0, len(s.history)+1)
	h = append(h, entry)
	h = append(h, s.history...)
	if len(h) > MaxHistory {
		h = h[:MaxHistory]
	}
	s.history = h
	snapshot := append([]model.SyncHistoryEntry(nil), h...)
	err := kv.PutJSON(s.kv, historyKey, snapshot)
	s.mu.Unlock()

	s.notify(Event{Type: EventHistory, History: snapshot})
	return err
}

func (s *StatusStore) ClearHistory() error {
	s.mu.Lock()
	s.history = nil
	err := kv.PutJSON(s.kv, historyKey, []model.SyncHistoryEntry{})
	s.mu.Unlock()

	s.notify(Event{Type: EventHistory, History: []model.SyncHistoryEntry{}})
	return err
}

// Subscribe registers fn for every subsequent mutation. Call the returned func to unsubscribe.
// Callbacks run synchronously on the mutating goroutine and must not block for long.
func (s *StatusStore) Subscribe(fn func(Event)) func() {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *StatusStore) notify(ev Event) {
	s.subMu.Lock()
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	fns := make([]func(Event), 0, len(ids))
	sort.Ints(ids)
	for _, id := range ids {
		fns = append(fns, s.subs[id])
	}
	s.subMu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}
