// Package syncer reconciles peer records between the cloud store and the local agent.
package syncer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"peer-sync/pkg/logs"
	"peer-sync/pkg/model"
	"peer-sync/pkg/store"
)

// MsgNotConfigured is the pass message when the local agent has no base URL.
const MsgNotConfigured = "Local server not configured"

// Engine owns both store adapters, the status/history store and the auto-sync timer.
// Construct one per process with New and release it with Close.
type Engine struct {
	cloud  store.PeerStore
	local  store.PeerStore
	status *StatusStore
	source ConfigSource

	now       func() time.Time
	newTicker func(time.Duration) (<-chan time.Time, func())

	busy atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	loops  sync.WaitGroup
}

// New wires an engine. source supplies the configuration for every scheduled tick;
// when nil, ticks reuse the configuration passed to StartAutoSync.
func New(cloud, local store.PeerStore, status *StatusStore, source ConfigSource) *Engine {
	return &Engine{
		cloud:  cloud,
		local:  local,
		status: status,
		source: source,
		now:    time.Now,
		newTicker: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
	}
}

type actionKind int

const (
	createLocal actionKind = iota
	updateLocal
	createCloud
	updateCloud
)

type action struct {
	kind actionKind
	peer model.Peer
}

func (a action) describe() string {
	switch a.kind {
	case createLocal:
		return "create peer " + a.peer.ID + " in local store"
	case updateLocal:
		return "update peer " + a.peer.ID + " in local store"
	case createCloud:
		return "create peer " + a.peer.ID + " in cloud store"
	default:
		return "update peer " + a.peer.ID + " in cloud store"
	}
}

// plan diffs both peer sets. The cloud-to-local leg is planned first, then the
// local-to-cloud leg, each in the iteration order of the fetched lists.
func plan(cloudPeers, localPeers []model.Peer, cfg model.SyncConfig) []action {
	cloudByID := make(map[string]model.Peer, len(cloudPeers))
	for _, p := range cloudPeers {
		cloudByID[p.ID] = p
	}
	localByID := make(map[string]model.Peer, len(localPeers))
	for _, p := range localPeers {
		localByID[p.ID] = p
	}

	var out []action
	if cfg.Direction.PushesToLocal() {
		for _, cp := range cloudPeers {
			lp, ok := localByID[cp.ID]
			switch {
			case !ok:
				out = append(out, action{kind: createLocal, peer: cp})
			case cp.SameVersion(lp):
				// unchanged
			case Resolve(cp, lp, cfg.ConflictResolution) == SideCloud:
				out = append(out, action{kind: updateLocal, peer: cp})
			}
		}
	}
	if cfg.Direction.PushesToCloud() {
		for _, lp := range localPeers {
			cp, ok := cloudByID[lp.ID]
			switch {
			case !ok:
				out = append(out, action{kind: createCloud, peer: lp})
			case lp.SameVersion(cp):
				// unchanged
			case Resolve(cp, lp, cfg.ConflictResolution) == SideLocal:
				out = append(out, action{kind: updateCloud, peer: lp})
			}
		}
	}
	return out
}

// apply writes the peer with its updated_at at version precision so both stores
// end up holding the same value.
func (e *Engine) apply(ctx context.Context, a action) error {
	p := a.peer.Normalized()
	switch a.kind {
	case createLocal:
		return e.local.Create(ctx, p)
	case updateLocal:
		return e.local.Update(ctx, p)
	case createCloud:
		return e.cloud.Create(ctx, p)
	default:
		return e.cloud.Update(ctx, p)
	}
}

// PerformSync runs one reconciliation pass. It never returns an error: failures are
// reported in the result, recorded as a history entry and reflected in the status.
// Writes committed before a write failure are not rolled back; the next pass picks up
// whatever is left.
func (e *Engine) PerformSync(ctx context.Context, cfg model.SyncConfig) model.SyncResult {
	if !e.busy.CompareAndSwap(false, true) {
		logs.Logger.Warnf("sync pass skipped: previous pass still running")
		return model.SyncResult{Success: false, Message: ErrBusy.Error()}
	}
	defer e.busy.Store(false)
	return e.run(ctx, cfg)
}

// run is the pass body. The caller holds the busy flag.
func (e *Engine) run(ctx context.Context, cfg model.SyncConfig) model.SyncResult {
	start := e.now()
	running := true
	dir := cfg.Direction
	e.updateStatus(StatusPatch{IsRunning: &running, Direction: &dir})

	if err := cfg.Validate(); err != nil {
		return e.fail(start, cfg, &PassError{Kind: ErrInvalidConfig, Op: "invalid sync configuration", Err: err}, 0)
	}
	if c, ok := e.local.(store.Configurable); ok && !c.Configured() {
		return e.fail(start, cfg, &PassError{Kind: ErrNotConfigured, Op: MsgNotConfigured}, 0)
	}

	cloudPeers, err := e.cloud.FetchAll(ctx)
	if err != nil {
		return e.fail(start, cfg, &PassError{Kind: ErrFetchFailed, Op: "fetch cloud peers", Err: err}, 0)
	}
	localPeers, err := e.local.FetchAll(ctx)
	if err != nil {
		return e.fail(start, cfg, &PassError{Kind: ErrFetchFailed, Op: "fetch local peers", Err: err}, 0)
	}

	actions := plan(cloudPeers, localPeers, cfg)
	pending := len(actions)
	e.updateStatus(StatusPatch{PendingChanges: &pending})

	synced := 0
	for _, a := range actions {
		if err := e.apply(ctx, a); err != nil {
			logs.ForPass(string(cfg.Direction), string(cfg.ConflictResolution)).
				Warnf("sync write failed after %d of %d changes: %v", synced, len(actions), err)
			return e.fail(start, cfg, &PassError{Kind: ErrWriteFailed, Op: a.describe(), Err: err}, len(actions)-synced)
		}
		synced++
	}

	end := e.now()
	stopped := false
	zero := 0
	e.updateStatus(StatusPatch{IsRunning: &stopped, LastSync: &end, ClearLastError: true, PendingChanges: &zero})
	msg := fmt.Sprintf("Synced %d records", synced)
	if synced == 0 {
		msg = "Already in sync"
	}
	e.record(model.SyncHistoryEntry{
		Timestamp:     end,
		Success:       true,
		Message:       msg,
		Direction:     cfg.Direction,
		RecordsSynced: synced,
		DurationMs:    end.Sub(start).Milliseconds(),
	})
	logs.ForPass(string(cfg.Direction), string(cfg.ConflictResolution)).
		Infof("sync pass ok cloud=%d local=%d synced=%d duration=%s", len(cloudPeers), len(localPeers), synced, end.Sub(start))
	return model.SyncResult{Success: true, Message: msg, RecordsSynced: synced}
}

func (e *Engine) fail(start time.Time, cfg model.SyncConfig, perr *PassError, pending int) model.SyncResult {
	end := e.now()
	msg := perr.Error()
	stopped := false
	e.updateStatus(StatusPatch{IsRunning: &stopped, LastError: &msg, PendingChanges: &pending})
	e.record(model.SyncHistoryEntry{
		Timestamp:     end,
		Success:       false,
		Message:       msg,
		Direction:     cfg.Direction,
		RecordsSynced: 0,
		DurationMs:    end.Sub(start).Milliseconds(),
	})
	logs.ForPass(string(cfg.Direction), string(cfg.ConflictResolution)).
		Errorf("sync pass failed duration=%s: %s", end.Sub(start), msg)
	return model.SyncResult{Success: false, Message: msg, RecordsSynced: 0}
}

func (e *Engine) record(entry model.SyncHistoryEntry) {
	entry.ID = uuid.NewString()
	if err := e.status.AppendHistory(entry); err != nil {
		logs.Logger.Errorf("sync history persist failed: %v", err)
	}
}

func (e *Engine) updateStatus(p StatusPatch) {
	if err := e.status.UpdateStatus(p); err != nil {
		logs.Logger.Errorf("sync status persist failed: %v", err)
	}
}

// Syncing reports whether a pass is in flight.
func (e *Engine) Syncing() bool { return e.busy.Load() }

func (e *Engine) GetSyncStatus() model.SyncStatus { return e.status.GetStatus() }

func (e *Engine) GetSyncHistory() []model.SyncHistoryEntry { return e.status.GetHistory() }

func (e *Engine) ClearSyncHistory() error { return e.status.ClearHistory() }

// Subscribe forwards to the status store; see StatusStore.Subscribe.
func (e *Engine) Subscribe(fn func(Event)) func() { return e.status.Subscribe(fn) }
