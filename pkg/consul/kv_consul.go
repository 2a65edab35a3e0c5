//go:build consul

package consul

import (
	"context"
	"fmt"
	"time"

	consulapi "github.com/hashicorp/consul/api"
)

// Store is a Consul KV-backed state store.
type Store struct {
	cli *consulapi.Client
}

const statePrefix = "peer-sync/state/"

func NewStore(addr string) *Store {
	cfg := consulapi.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	cli, _ := consulapi.NewClient(cfg) // ignore error for build; runtime will report
	return &Store{cli: cli}
}

func (s *Store) Get(key string) ([]byte, bool, error) {
	if s.cli == nil {
		return nil, false, fmt.Errorf("consul client not configured")
	}
	kv, _, err := s.cli.KV().Get(statePrefix+key, nil)
	if err != nil || kv == nil {
		return nil, false, err
	}
	return kv.Value, true, nil
}

func (s *Store) Put(key string, value []byte) error {
	if s.cli == nil {
		return fmt.Errorf("consul client not configured")
	}
	_, err := s.cli.KV().Put(&consulapi.KVPair{Key: statePrefix + key, Value: value}, nil)
	return err
}

// Watch invokes onChange with the new value every time key changes after the call,
// using blocking queries. It returns once ctx is cancelled.
func (s *Store) Watch(ctx context.Context, key string, onChange func([]byte)) error {
	if s.cli == nil {
		return fmt.Errorf("consul client not configured")
	}
	q := (&consulapi.QueryOptions{}).WithContext(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		kv, meta, err := s.cli.KV().Get(statePrefix+key, q)
		if err != nil {
			time.Sleep(time.Second)
			continue
		}
		if kv != nil && q.WaitIndex != 0 && meta.LastIndex != q.WaitIndex {
			onChange(kv.Value)
		}
		q.WaitIndex = meta.LastIndex
	}
}
