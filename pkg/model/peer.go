package model

import "time"

// Peer describes a WireGuard peer as held by both the cloud store and the local agent.
// ID is the only field used to match records across stores.
type Peer struct {
	ID                  string     `json:"id"`
	Name                string     `json:"name"`
	PublicKey           string     `json:"public_key"`
	PrivateKey          *string    `json:"private_key,omitempty"` // absent on records that never expose it
	AllowedIPs          string     `json:"allowed_ips"`
	Endpoint            string     `json:"endpoint,omitempty"`
	DNS                 string     `json:"dns,omitempty"`
	PersistentKeepalive int        `json:"persistent_keepalive,omitempty"`
	Status              string     `json:"status,omitempty"` // connected/disconnected
	LastHandshake       *time.Time `json:"last_handshake,omitempty"`
	TransferRx          int64      `json:"transfer_rx"`
	TransferTx          int64      `json:"transfer_tx"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// VersionPrecision is the resolution at which updated_at is stored and compared.
// The cloud database keeps microseconds, so finer digits are not part of a version.
const VersionPrecision = time.Microsecond

// Version returns updated_at in UTC at VersionPrecision.
func (p Peer) Version() time.Time {
	return p.UpdatedAt.UTC().Truncate(VersionPrecision)
}

// Normalized returns a copy whose updated_at is its Version.
func (p Peer) Normalized() Peer {
	p.UpdatedAt = p.Version()
	return p
}

// SameVersion reports whether both records carry the same version.
// Any other difference is ignored; a differing version always counts as a conflict.
func (p Peer) SameVersion(other Peer) bool {
	return p.Version().Equal(other.Version())
}

// Peer status values reported by the local agent.
const (
	PeerConnected    = "connected"
	PeerDisconnected = "disconnected"
)
