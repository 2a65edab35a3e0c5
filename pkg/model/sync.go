package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// MinSyncInterval is the shortest accepted auto-sync period.
const MinSyncInterval = 10 * time.Second

// Direction selects which legs of a reconciliation pass run.
type Direction string

const (
	CloudToLocal  Direction = "cloud_to_local"
	LocalToCloud  Direction = "local_to_cloud"
	Bidirectional Direction = "bidirectional"
)

// ParseDirection rejects anything outside the three known directions.
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(s); d {
	case CloudToLocal, LocalToCloud, Bidirectional:
		return d, nil
	}
	return "", fmt.Errorf("unknown sync direction %q", s)
}

// PushesToLocal reports whether the cloud-to-local leg runs.
func (d Direction) PushesToLocal() bool { return d == CloudToLocal || d == Bidirectional }

// PushesToCloud reports whether the local-to-cloud leg runs.
func (d Direction) PushesToCloud() bool { return d == LocalToCloud || d == Bidirectional }

func (d *Direction) UnmarshalText(b []byte) error {
	v, err := ParseDirection(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// ConflictPolicy decides which side wins when both stores changed the same peer.
type ConflictPolicy string

const (
	CloudWins  ConflictPolicy = "cloud_wins"
	LocalWins  ConflictPolicy = "local_wins"
	NewestWins ConflictPolicy = "newest_wins"
)

// ParseConflictPolicy rejects anything outside the three known policies.
func ParseConflictPolicy(s string) (ConflictPolicy, error) {
	switch p := ConflictPolicy(s); p {
	case CloudWins, LocalWins, NewestWins:
		return p, nil
	}
	return "", fmt.Errorf("unknown conflict resolution %q", s)
}

func (p *ConflictPolicy) UnmarshalText(b []byte) error {
	v, err := ParseConflictPolicy(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// SyncConfig is the operator-owned sync configuration. Interval is in seconds.
type SyncConfig struct {
	Enabled            bool           `json:"enabled"`
	Interval           int            `json:"interval"`
	Direction          Direction      `json:"direction"`
	ConflictResolution ConflictPolicy `json:"conflict_resolution"`
}

// DefaultSyncConfig mirrors the dashboard defaults: disabled, every 5 minutes, both ways.
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		Enabled:            false,
		Interval:           300,
		Direction:          Bidirectional,
		ConflictResolution: NewestWins,
	}
}

// Period returns Interval as a duration.
func (c SyncConfig) Period() time.Duration {
	return time.Duration(c.Interval) * time.Second
}

// Validate checks enum values and, for enabled configs, the minimum interval.
func (c SyncConfig) Validate() error {
	if _, err := ParseDirection(string(c.Direction)); err != nil {
		return err
	}
	if _, err := ParseConflictPolicy(string(c.ConflictResolution)); err != nil {
		return err
	}
	if c.Enabled && c.Period() < MinSyncInterval {
		return fmt.Errorf("sync interval must be at least %d seconds", int(MinSyncInterval/time.Second))
	}
	return nil
}

// DecodeSyncConfig parses and validates a JSON settings blob.
func DecodeSyncConfig(b []byte) (SyncConfig, error) {
	var c SyncConfig
	if err := json.Unmarshal(b, &c); err != nil {
		return SyncConfig{}, fmt.Errorf("decode sync config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return SyncConfig{}, err
	}
	return c, nil
}

// SyncStatus is the process-wide engine state.
type SyncStatus struct {
	IsRunning      bool       `json:"is_running"`
	LastSync       *time.Time `json:"last_sync"`
	LastError      *string    `json:"last_error"`
	Direction      *Direction `json:"direction"`
	PendingChanges int        `json:"pending_changes"`
}

// SyncHistoryEntry is an immutable record of one reconciliation pass.
type SyncHistoryEntry struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	Success       bool      `json:"success"`
	Message       string    `json:"message"`
	Direction     Direction `json:"direction"`
	RecordsSynced int       `json:"records_synced"`
	DurationMs    int64     `json:"duration_ms"`
}

// SyncResult is what callers of a pass receive; passes never return errors.
type SyncResult struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	RecordsSynced int    `json:"records_synced"`
}
