package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peer-sync/pkg/kv"
	"peer-sync/pkg/localclient"
	"peer-sync/pkg/model"
	"peer-sync/pkg/store"
)

var (
	t1 = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	t2 = t1.Add(time.Hour)
)

func peer(id string, ts time.Time) model.Peer {
	return model.Peer{ID: id, Name: "peer-" + id, PublicKey: "pk-" + id, AllowedIPs: "10.8.0.0/32", UpdatedAt: ts}
}

func cfg(dir model.Direction, pol model.ConflictPolicy) model.SyncConfig {
	return model.SyncConfig{Enabled: true, Interval: 60, Direction: dir, ConflictResolution: pol}
}

func newEngine(cloud, local store.PeerStore) *Engine {
	return New(cloud, local, NewStatusStore(kv.NewMemoryStore()), nil)
}

// flakyStore fails fetches or the n-th write.
type flakyStore struct {
	*store.MemoryStore
	fetchErr  error
	failWrite int
	writes    int
}

func (f *flakyStore) FetchAll(ctx context.Context) ([]model.Peer, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.MemoryStore.FetchAll(ctx)
}

func (f *flakyStore) write() error {
	f.writes++
	if f.failWrite > 0 && f.writes == f.failWrite {
		return errors.New("local server returned 500 Internal Server Error")
	}
	return nil
}

func (f *flakyStore) Create(ctx context.Context, p model.Peer) error {
	if err := f.write(); err != nil {
		return err
	}
	return f.MemoryStore.Create(ctx, p)
}

func (f *flakyStore) Update(ctx context.Context, p model.Peer) error {
	if err := f.write(); err != nil {
		return err
	}
	return f.MemoryStore.Update(ctx, p)
}

func TestNewestWinsOverwritesOlderLocal(t *testing.T) {
	cloud := store.NewMemoryStore(peer("A", t2))
	local := store.NewMemoryStore(peer("A", t1))
	e := newEngine(cloud, local)

	res := e.PerformSync(context.Background(), cfg(model.Bidirectional, model.NewestWins))
	require.True(t, res.Success, res.Message)
	require.Equal(t, 1, res.RecordsSynced)
	got, _ := local.Get("A")
	require.True(t, got.UpdatedAt.Equal(t2))
}

func TestCloudToLocalCreatesMissing(t *testing.T) {
	cloud := store.NewMemoryStore(peer("B", t1))
	local := store.NewMemoryStore()
	e := newEngine(cloud, local)

	res := e.PerformSync(context.Background(), cfg(model.CloudToLocal, model.NewestWins))
	require.True(t, res.Success)
	require.Equal(t, 1, res.RecordsSynced)
	_, ok := local.Get("B")
	require.True(t, ok)
}

func TestCloudToLocalIgnoresLocalOnlyPeers(t *testing.T) {
	cloud := store.NewMemoryStore()
	local := store.NewMemoryStore(peer("L", t1))
	e := newEngine(cloud, local)

	res := e.PerformSync(context.Background(), cfg(model.CloudToLocal, model.LocalWins))
	require.True(t, res.Success)
	require.Equal(t, 0, res.RecordsSynced)
	require.Equal(t, 0, cloud.Len())
}

func TestIdenticalVersionIsSkipped(t *testing.T) {
	c := peer("C", t1)
	l := peer("C", t1)
	l.Name = "different name, same version"
	cloud := store.NewMemoryStore(c)
	local := &flakyStore{MemoryStore: store.NewMemoryStore(l)}
	e := newEngine(cloud, local)

	res := e.PerformSync(context.Background(), cfg(model.Bidirectional, model.CloudWins))
	require.True(t, res.Success)
	require.Equal(t, 0, res.RecordsSynced)
	require.Equal(t, 0, local.writes)
}

func TestConflictLosingSideDoesNothing(t *testing.T) {
	cloud := store.NewMemoryStore(peer("A", t2))
	local := store.NewMemoryStore(peer("A", t1))
	e := newEngine(cloud, local)

	res := e.PerformSync(context.Background(), cfg(model.LocalToCloud, model.CloudWins))
	require.True(t, res.Success)
	require.Equal(t, 0, res.RecordsSynced)
	got, _ := cloud.Get("A")
	require.True(t, got.UpdatedAt.Equal(t2))
}

func TestLocalWinsPushesToCloud(t *testing.T) {
	cloud := store.NewMemoryStore(peer("A", t2))
	local := store.NewMemoryStore(peer("A", t1))
	e := newEngine(cloud, local)

	res := e.PerformSync(context.Background(), cfg(model.Bidirectional, model.LocalWins))
	require.True(t, res.Success)
	require.Equal(t, 1, res.RecordsSynced)
	got, _ := cloud.Get("A")
	require.True(t, got.UpdatedAt.Equal(t1))
}

func TestNotConfiguredShortCircuits(t *testing.T) {
	cloud := &flakyStore{MemoryStore: store.NewMemoryStore(peer("A", t1))}
	e := newEngine(cloud, localclient.New("", "", 0))

	for _, dir := range []model.Direction{model.Bidirectional, model.LocalToCloud} {
		res := e.PerformSync(context.Background(), cfg(dir, model.NewestWins))
		require.False(t, res.Success)
		require.Equal(t, 0, res.RecordsSynced)
		require.Contains(t, res.Message, "not configured")
	}
	require.Equal(t, 0, cloud.writes)
	require.Equal(t, 1, cloud.Len())

	hist := e.GetSyncHistory()
	require.Len(t, hist, 2)
	require.False(t, hist[0].Success)
	require.Equal(t, model.LocalToCloud, hist[0].Direction)
	st := e.GetSyncStatus()
	require.False(t, st.IsRunning)
	require.NotNil(t, st.LastError)
	require.Equal(t, MsgNotConfigured, *st.LastError)
}

func TestIdempotence(t *testing.T) {
	cloud := store.NewMemoryStore(peer("A", t2), peer("B", t1))
	local := store.NewMemoryStore(peer("A", t1), peer("C", t1))
	e := newEngine(cloud, local)
	c := cfg(model.Bidirectional, model.NewestWins)

	first := e.PerformSync(context.Background(), c)
	require.True(t, first.Success)
	require.Equal(t, 3, first.RecordsSynced)

	second := e.PerformSync(context.Background(), c)
	require.True(t, second.Success)
	require.Equal(t, 0, second.RecordsSynced)
}

func TestBidirectionalConvergence(t *testing.T) {
	cloud := store.NewMemoryStore(peer("A", t2), peer("B", t1), peer("D", t1))
	local := store.NewMemoryStore(peer("A", t1), peer("C", t2), peer("D", t2))
	e := newEngine(cloud, local)

	res := e.PerformSync(context.Background(), cfg(model.Bidirectional, model.NewestWins))
	require.True(t, res.Success)

	for _, id := range []string{"A", "B", "C", "D"} {
		cp, okC := cloud.Get(id)
		lp, okL := local.Get(id)
		require.True(t, okC && okL, id)
		require.True(t, cp.SameVersion(lp), id)
	}
}

func TestFetchFailureAbortsBeforeWrites(t *testing.T) {
	cloud := store.NewMemoryStore(peer("A", t1))
	local := &flakyStore{MemoryStore: store.NewMemoryStore(), fetchErr: errors.New("local server unreachable: connection refused")}
	e := newEngine(cloud, local)

	res := e.PerformSync(context.Background(), cfg(model.Bidirectional, model.NewestWins))
	require.False(t, res.Success)
	require.Contains(t, res.Message, "fetch local peers")
	require.Contains(t, res.Message, "unreachable")
	require.Equal(t, 0, local.writes)
}

func TestWriteFailureIsNotRolledBack(t *testing.T) {
	cloud := store.NewMemoryStore(peer("A", t1), peer("B", t1), peer("C", t1))
	local := &flakyStore{MemoryStore: store.NewMemoryStore(), failWrite: 2}
	e := newEngine(cloud, local)
	c := cfg(model.CloudToLocal, model.NewestWins)

	res := e.PerformSync(context.Background(), c)
	require.False(t, res.Success)
	require.Equal(t, 0, res.RecordsSynced)
	require.Contains(t, res.Message, "create peer B in local store")
	require.Equal(t, 1, local.Len(), "earlier write in the pass stays committed")
	st := e.GetSyncStatus()
	require.Equal(t, 2, st.PendingChanges)

	local.failWrite = 0
	res = e.PerformSync(context.Background(), c)
	require.True(t, res.Success)
	require.Equal(t, 2, res.RecordsSynced, "retry picks up what was left")
	require.Equal(t, 0, e.GetSyncStatus().PendingChanges)
}

func TestSuccessStatusAndHistory(t *testing.T) {
	cloud := store.NewMemoryStore(peer("A", t1))
	local := store.NewMemoryStore()
	e := newEngine(cloud, local)
	clock := t2
	e.now = func() time.Time {
		clock = clock.Add(250 * time.Millisecond)
		return clock
	}

	var events []Event
	unsub := e.Subscribe(func(ev Event) { events = append(events, ev) })
	defer unsub()

	res := e.PerformSync(context.Background(), cfg(model.CloudToLocal, model.NewestWins))
	require.True(t, res.Success)

	st := e.GetSyncStatus()
	require.False(t, st.IsRunning)
	require.Nil(t, st.LastError)
	require.NotNil(t, st.LastSync)
	require.NotNil(t, st.Direction)
	require.Equal(t, model.CloudToLocal, *st.Direction)

	hist := e.GetSyncHistory()
	require.Len(t, hist, 1)
	require.True(t, hist[0].Success)
	require.Equal(t, 1, hist[0].RecordsSynced)
	require.Equal(t, int64(250), hist[0].DurationMs)
	require.NotEmpty(t, hist[0].ID)

	require.NotEmpty(t, events)
	require.Equal(t, EventStatus, events[0].Type)
	require.True(t, events[0].Status.IsRunning)
	require.Equal(t, EventHistory, events[len(events)-1].Type)
}

func TestHistoryBound(t *testing.T) {
	e := newEngine(store.NewMemoryStore(), store.NewMemoryStore())
	n := 0
	e.now = func() time.Time {
		n++
		return t1.Add(time.Duration(n) * time.Second)
	}
	c := cfg(model.Bidirectional, model.NewestWins)

	res := e.PerformSync(context.Background(), c)
	require.True(t, res.Success)
	firstID := e.GetSyncHistory()[0].ID

	for i := 0; i < 50; i++ {
		e.PerformSync(context.Background(), c)
	}
	hist := e.GetSyncHistory()
	require.Len(t, hist, MaxHistory)
	for i := 1; i < len(hist); i++ {
		require.True(t, hist[i-1].Timestamp.After(hist[i].Timestamp), "newest first")
	}
	for _, h := range hist {
		require.NotEqual(t, firstID, h.ID, "oldest entry evicted")
	}
}

func TestInvalidConfigIsReported(t *testing.T) {
	e := newEngine(store.NewMemoryStore(), store.NewMemoryStore())
	res := e.PerformSync(context.Background(), model.SyncConfig{Direction: "sideways", ConflictResolution: model.CloudWins})
	require.False(t, res.Success)
	require.Contains(t, res.Message, "invalid sync configuration")
	require.Len(t, e.GetSyncHistory(), 1)
}

// blockingStore parks FetchAll until released.
type blockingStore struct {
	*store.MemoryStore
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingStore) FetchAll(ctx context.Context) ([]model.Peer, error) {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return b.MemoryStore.FetchAll(ctx)
}

func TestConcurrentPassIsRejected(t *testing.T) {
	cloud := &blockingStore{MemoryStore: store.NewMemoryStore(), entered: make(chan struct{}), release: make(chan struct{})}
	e := newEngine(cloud, store.NewMemoryStore())
	c := cfg(model.Bidirectional, model.NewestWins)

	done := make(chan model.SyncResult)
	go func() { done <- e.PerformSync(context.Background(), c) }()
	<-cloud.entered
	require.True(t, e.Syncing())

	res := e.PerformSync(context.Background(), c)
	require.False(t, res.Success)
	require.Equal(t, ErrBusy.Error(), res.Message)

	close(cloud.release)
	first := <-done
	require.True(t, first.Success)
	require.Len(t, e.GetSyncHistory(), 1, "rejected pass leaves no history entry")
}

func TestPassErrorClassification(t *testing.T) {
	err := &PassError{Kind: ErrFetchFailed, Op: "fetch cloud peers", Err: fmt.Errorf("boom")}
	require.True(t, errors.Is(err, ErrFetchFailed))
	require.False(t, errors.Is(err, ErrWriteFailed))
	assert.Equal(t, "fetch cloud peers: boom", err.Error())

	nc := &PassError{Kind: ErrNotConfigured, Op: MsgNotConfigured}
	require.True(t, errors.Is(nc, store.ErrNotConfigured))
	assert.Equal(t, MsgNotConfigured, nc.Error())
}
