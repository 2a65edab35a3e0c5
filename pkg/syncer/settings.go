package syncer

import (
	"fmt"
	"sync"

	"peer-sync/pkg/kv"
	"peer-sync/pkg/model"
)

// ConfigKey is where the operator-edited sync configuration is persisted.
const ConfigKey = "sync_config"

// Settings persists the sync configuration in the state store. Until an operator saves
// one, the configuration from the file/environment is served.
type Settings struct {
	mu       sync.Mutex
	kv       kv.Store
	fallback model.SyncConfig
}

func NewSettings(s kv.Store, fallback model.SyncConfig) *Settings {
	return &Settings{kv: s, fallback: fallback}
}

// SyncConfig implements ConfigSource.
func (s *Settings) SyncConfig() (model.SyncConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok, err := s.kv.Get(ConfigKey)
	if err != nil {
		return model.SyncConfig{}, fmt.Errorf("load %s: %w", ConfigKey, err)
	}
	if !ok {
		return s.fallback, nil
	}
	return model.DecodeSyncConfig(b)
}

// Save validates and persists cfg.
func (s *Settings) Save(cfg model.SyncConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return kv.PutJSON(s.kv, ConfigKey, cfg)
}
