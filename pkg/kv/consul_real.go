//go:build consul

package kv

import (
	"peer-sync/pkg/consul"
)

// NewConsulStore creates a Consul-backed state store (requires build tag consul).
func NewConsulStore(addr string) Store {
	return consul.NewStore(addr)
}
