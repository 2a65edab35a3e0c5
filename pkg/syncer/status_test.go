package syncer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"peer-sync/pkg/kv"
	"peer-sync/pkg/model"
)

func TestStatusPatchMergesFields(t *testing.T) {
	s := NewStatusStore(kv.NewMemoryStore())
	running := true
	dir := model.LocalToCloud
	require.NoError(t, s.UpdateStatus(StatusPatch{IsRunning: &running, Direction: &dir}))

	msg := "boom"
	pending := 3
	require.NoError(t, s.UpdateStatus(StatusPatch{LastError: &msg, PendingChanges: &pending}))

	st := s.GetStatus()
	require.True(t, st.IsRunning)
	require.Equal(t, model.LocalToCloud, *st.Direction)
	require.Equal(t, "boom", *st.LastError)
	require.Equal(t, 3, st.PendingChanges)

	require.NoError(t, s.UpdateStatus(StatusPatch{ClearLastError: true}))
	require.Nil(t, s.GetStatus().LastError)
	require.True(t, s.GetStatus().IsRunning)
}

func TestStatusSurvivesReload(t *testing.T) {
	backend := kv.NewMemoryStore()
	s := NewStatusStore(backend)
	running := true
	last := time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpdateStatus(StatusPatch{IsRunning: &running, LastSync: &last}))
	require.NoError(t, s.AppendHistory(model.SyncHistoryEntry{ID: "h1", Timestamp: last, Success: true, Direction: model.Bidirectional}))

	reloaded := NewStatusStore(backend)
	st := reloaded.GetStatus()
	require.False(t, st.IsRunning, "no pass survives a restart")
	require.NotNil(t, st.LastSync)
	require.True(t, st.LastSync.Equal(last))
	hist := reloaded.GetHistory()
	require.Len(t, hist, 1)
	require.Equal(t, "h1", hist[0].ID)
}

func TestCorruptStateFallsBackToDefaults(t *testing.T) {
	backend := kv.NewMemoryStore()
	require.NoError(t, backend.Put(statusKey, []byte("{not json")))
	require.NoError(t, backend.Put(historyKey, []byte("[oops")))

	s := NewStatusStore(backend)
	require.Equal(t, model.SyncStatus{}, s.GetStatus())
	require.Empty(t, s.GetHistory())
}

func TestHistoryPrependAndClear(t *testing.T) {
	s := NewStatusStore(kv.NewMemoryStore())
	for i := 0; i < MaxHistory+5; i++ {
		require.NoError(t, s.AppendHistory(model.SyncHistoryEntry{RecordsSynced: i}))
	}
	hist := s.GetHistory()
	require.Len(t, hist, MaxHistory)
	require.Equal(t, MaxHistory+4, hist[0].RecordsSynced)
	require.Equal(t, 5, hist[MaxHistory-1].RecordsSynced)

	hist[0].Message = "mutated copy"
	require.Empty(t, s.GetHistory()[0].Message)

	require.NoError(t, s.ClearHistory())
	require.Empty(t, s.GetHistory())
}

func TestSubscribersSeePersistedState(t *testing.T) {
	backend := kv.NewMemoryStore()
	s := NewStatusStore(backend)

	var seen []EventType
	unsub := s.Subscribe(func(ev Event) {
		seen = append(seen, ev.Type)
		var persisted model.SyncStatus
		ok, err := kv.GetJSON(backend, statusKey, &persisted)
		require.NoError(t, err)
		require.True(t, ok)
		if ev.Type == EventStatus {
			require.Equal(t, ev.Status.PendingChanges, persisted.PendingChanges)
		}
	})

	pending := 7
	require.NoError(t, s.UpdateStatus(StatusPatch{PendingChanges: &pending}))
	require.NoError(t, s.AppendHistory(model.SyncHistoryEntry{ID: "x"}))
	require.Equal(t, []EventType{EventStatus, EventHistory}, seen)

	unsub()
	require.NoError(t, s.ClearHistory())
	require.Len(t, seen, 2)
}
