//go:build !consul

package kv

import (
	"peer-sync/pkg/logs"
)

// NewConsulStore returns a memory store when the consul build tag is not enabled.
func NewConsulStore(addr string) Store {
	logs.Logger.Warnf("consul state store requested (addr=%s) but consul build tag not enabled; using memory store", addr)
	return NewMemoryStore()
}
