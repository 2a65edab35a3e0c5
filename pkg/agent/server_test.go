package agent

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"peer-sync/pkg/localclient"
	"peer-sync/pkg/model"
	"peer-sync/pkg/store"
)

type fakeStats map[string]PeerStats

func (f fakeStats) PeerStats() (map[string]PeerStats, error) { return f, nil }

func pubKey(t *testing.T) string {
	t.Helper()
	k, err := wgtypes.GeneratePrivateKey()
	require.NoError(t, err)
	return k.PublicKey().String()
}

func newTestServer(t *testing.T, secret string, stats StatsSource) (*Server, *localclient.Client) {
	t.Helper()
	s := NewServer(store.NewMemoryStore(), secret, stats)
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)
	return s, localclient.New(ts.URL, secret, 5*time.Second)
}

func TestCreateListUpdateRoundTrip(t *testing.T) {
	_, c := newTestServer(t, "s3cret", nil)
	ctx := context.Background()
	ts := time.Date(2026, 3, 4, 5, 6, 7, 123456000, time.UTC)

	p := model.Peer{ID: "p1", Name: "laptop", PublicKey: pubKey(t), AllowedIPs: "10.8.0.2/32", UpdatedAt: ts}
	require.NoError(t, c.Create(ctx, p))

	peers, err := c.FetchAll(ctx)
	require.NoError(t, err)
	require.Len(t, peers, 1)
	require.True(t, peers[0].UpdatedAt.Equal(ts), "provided updated_at is preserved")

	p.Name = "laptop-2"
	p.UpdatedAt = ts.Add(time.Minute)
	require.NoError(t, c.Update(ctx, p))
	peers, err = c.FetchAll(ctx)
	require.NoError(t, err)
	require.Equal(t, "laptop-2", peers[0].Name)
	require.NoError(t, c.Ping(ctx))
}

func TestCreateDuplicateAndUpdateUnknown(t *testing.T) {
	_, c := newTestServer(t, "", nil)
	ctx := context.Background()
	p := model.Peer{ID: "dup", PublicKey: pubKey(t), UpdatedAt: time.Now()}
	require.NoError(t, c.Create(ctx, p))

	err := c.Create(ctx, p)
	require.Error(t, err)
	require.Contains(t, err.Error(), "409")

	p.ID = "ghost"
	err = c.Update(ctx, p)
	require.Error(t, err)
	require.Contains(t, err.Error(), "404")
}

func TestInvalidPublicKeyRejected(t *testing.T) {
	_, c := newTestServer(t, "", nil)
	err := c.Create(context.Background(), model.Peer{ID: "bad", PublicKey: "not-a-key"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "400")
	require.Contains(t, err.Error(), "invalid public key")
}

func TestSecretRequired(t *testing.T) {
	s := NewServer(store.NewMemoryStore(), "right", nil)
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	_, err := localclient.New(ts.URL, "wrong", time.Second).FetchAll(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "401")

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMissingTimestampIsStamped(t *testing.T) {
	s := NewServer(store.NewMemoryStore(), "", nil)
	now := time.Date(2026, 6, 1, 12, 0, 0, 987654321, time.UTC)
	s.now = func() time.Time { return now }
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	body := []byte(`{"id":"n1","name":"x","public_key":"` + pubKey(t) + `","allowed_ips":"10.8.0.3/32"}`)
	resp, err := http.Post(ts.URL+"/peers", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	peers, err := localclient.New(ts.URL, "", time.Second).FetchAll(context.Background())
	require.NoError(t, err)
	require.Len(t, peers, 1)
	require.True(t, peers[0].UpdatedAt.Equal(now.Truncate(time.Microsecond)))
}

func TestRuntimeStatsOverlay(t *testing.T) {
	active, idle := pubKey(t), pubKey(t)
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	stats := fakeStats{}
	stats[active] = PeerStats{LastHandshake: now.Add(-time.Minute), RxBytes: 100, TxBytes: 200}
	stats[idle] = PeerStats{LastHandshake: now.Add(-10 * time.Minute)}
	s, c := newTestServer(t, "", stats)
	s.now = func() time.Time { return now }
	ctx := context.Background()
	require.NoError(t, c.Create(ctx, model.Peer{ID: "a", PublicKey: active, UpdatedAt: now}))
	require.NoError(t, c.Create(ctx, model.Peer{ID: "b", PublicKey: idle, UpdatedAt: now}))
	require.NoError(t, c.Create(ctx, model.Peer{ID: "c", PublicKey: pubKey(t), UpdatedAt: now}))

	peers, err := c.FetchAll(ctx)
	require.NoError(t, err)
	require.Len(t, peers, 3)
	require.Equal(t, model.PeerConnected, peers[0].Status)
	require.Equal(t, int64(100), peers[0].TransferRx)
	require.Equal(t, int64(200), peers[0].TransferTx)
	require.Equal(t, model.PeerDisconnected, peers[1].Status)
	require.NotNil(t, peers[1].LastHandshake)
	require.Empty(t, peers[2].Status)
}

type brokenStats struct{}

func (brokenStats) PeerStats() (map[string]PeerStats, error) { return nil, errors.New("no such device") }

func TestStatsFailureStillLists(t *testing.T) {
	_, c := newTestServer(t, "", brokenStats{})
	peers, err := c.FetchAll(context.Background())
	require.NoError(t, err)
	require.Empty(t, peers)
}

func TestProvidedTimestampStoredAtMicroseconds(t *testing.T) {
	_, c := newTestServer(t, "", nil)
	ctx := context.Background()
	ts := time.Date(2026, 6, 1, 10, 0, 0, 123456789, time.UTC)
	require.NoError(t, c.Create(ctx, model.Peer{ID: "ns", PublicKey: pubKey(t), UpdatedAt: ts}))

	peers, err := c.FetchAll(ctx)
	require.NoError(t, err)
	require.Len(t, peers, 1)
	require.Equal(t, 123456000, peers[0].UpdatedAt.Nanosecond())
}
