package store

import (
	"context"
	"errors"

	"peer-sync/pkg/model"
)

var (
	ErrNotFound = errors.New("peer not found")
	ErrExists   = errors.New("peer already exists")

	// ErrNotConfigured is returned by adapters that have no endpoint to talk to.
	ErrNotConfigured = errors.New("not configured")
)

// PeerStore is the capability contract shared by the cloud store and the local agent.
// Both sides of a sync pass are reached only through these three calls.
type PeerStore interface {
	FetchAll(ctx context.Context) ([]model.Peer, error)
	Create(ctx context.Context, p model.Peer) error
	Update(ctx context.Context, p model.Peer) error
}

// Configurable is implemented by adapters that may be left unconfigured.
type Configurable interface {
	Configured() bool
}
