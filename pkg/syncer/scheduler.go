package syncer

import (
	"context"

	"peer-sync/pkg/logs"
	"peer-sync/pkg/model"
)

// ConfigSource returns the current sync configuration. It is consulted on every tick.
type ConfigSource interface {
	SyncConfig() (model.SyncConfig, error)
}

// ConfigFunc adapts a function to ConfigSource.
type ConfigFunc func() (model.SyncConfig, error)

func (f ConfigFunc) SyncConfig() (model.SyncConfig, error) { return f() }

// StartAutoSync installs the auto-sync timer, replacing any timer already installed.
// It does nothing when cfg is disabled or its interval is below the minimum, and
// reports whether a timer is now running. The interval stays fixed until the next call.
func (e *Engine) StartAutoSync(cfg model.SyncConfig) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()

	if !cfg.Enabled {
		logs.Logger.Infof("auto-sync not started: disabled")
		return false
	}
	if cfg.Period() < model.MinSyncInterval {
		logs.Logger.Warnf("auto-sync not started: interval %ds below minimum %s", cfg.Interval, model.MinSyncInterval)
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	ticks, stopTicker := e.newTicker(cfg.Period())
	e.cancel = cancel
	e.loops.Add(1)

	go func() {
		defer e.loops.Done()
		defer stopTicker()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticks:
				if ctx.Err() != nil {
					return
				}
				e.tick(ctx, cfg)
			}
		}
	}()
	logs.ForPass(string(cfg.Direction), string(cfg.ConflictResolution)).Infof("auto-sync started interval=%s", cfg.Period())
	return true
}

// tick runs one scheduled pass with the configuration current at this moment.
// The pass is detached from the timer so stopping auto-sync does not interrupt it,
// but no pass starts once the timer has been stopped.
func (e *Engine) tick(timer context.Context, started model.SyncConfig) {
	cfg := started
	if e.source != nil {
		current, err := e.source.SyncConfig()
		if err != nil {
			logs.Logger.Errorf("auto-sync tick skipped: load config: %v", err)
			return
		}
		cfg = current
	}
	if !cfg.Enabled {
		logs.Logger.Debugf("auto-sync tick skipped: sync disabled")
		return
	}

	e.mu.Lock()
	if timer.Err() != nil {
		e.mu.Unlock()
		return
	}
	if !e.busy.CompareAndSwap(false, true) {
		e.mu.Unlock()
		logs.Logger.Warnf("auto-sync tick skipped: previous pass still running")
		return
	}
	e.mu.Unlock()
	defer e.busy.Store(false)
	e.run(context.Background(), cfg)
}

// StopAutoSync cancels the timer. A pass already in flight runs to completion, and no
// scheduled pass starts after StopAutoSync returns.
func (e *Engine) StopAutoSync() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopLocked() {
		logs.Logger.Infof("auto-sync stopped")
	}
}

func (e *Engine) stopLocked() bool {
	if e.cancel == nil {
		return false
	}
	e.cancel()
	e.cancel = nil
	return true
}

// AutoSyncRunning reports whether a timer is installed.
func (e *Engine) AutoSyncRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancel != nil
}

// Close stops the timer and waits for every timer goroutine, including any pass it
// is running, to exit. This holds even when the timer was already stopped.
func (e *Engine) Close() {
	e.StopAutoSync()
	e.loops.Wait()
}
