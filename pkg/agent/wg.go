package agent

import (
	"time"

	"golang.zx2c4.com/wireguard/wgctrl"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"peer-sync/pkg/model"
)

// HandshakeWindow is how recent the last handshake must be for a peer to count as connected.
const HandshakeWindow = 3 * time.Minute

// PeerStats is the runtime view of one peer on the WireGuard device.
type PeerStats struct {
	LastHandshake time.Time
	RxBytes       int64
	TxBytes       int64
}

// StatsSource reports runtime stats keyed by base64 public key.
type StatsSource interface {
	PeerStats() (map[string]PeerStats, error)
}

// DeviceStats reads stats from a kernel or userspace WireGuard device.
type DeviceStats struct {
	Interface string
}

func (d DeviceStats) PeerStats() (map[string]PeerStats, error) {
	c, err := wgctrl.New()
	if err != nil {
		return nil, err
	}
	defer c.Close()
	dev, err := c.Device(d.Interface)
	if err != nil {
		return nil, err
	}
	out := make(map[string]PeerStats, len(dev.Peers))
	for _, p := range dev.Peers {
		out[p.PublicKey.String()] = PeerStats{
			LastHandshake: p.LastHandshakeTime,
			RxBytes:       p.ReceiveBytes,
			TxBytes:       p.TransmitBytes,
		}
	}
	return out, nil
}

// ValidKey reports whether s is a base64 WireGuard key.
func ValidKey(s string) bool {
	_, err := wgtypes.ParseKey(s)
	return err == nil
}

// overlay fills the runtime fields of peers that the device knows about.
func overlay(peers []model.Peer, stats map[string]PeerStats, now time.Time) {
	for i := range peers {
		st, ok := stats[peers[i].PublicKey]
		if !ok {
			continue
		}
		peers[i].TransferRx = st.RxBytes
		peers[i].TransferTx = st.TxBytes
		peers[i].Status = model.PeerDisconnected
		if !st.LastHandshake.IsZero() {
			hs := st.LastHandshake
			peers[i].LastHandshake = &hs
			if now.Sub(hs) < HandshakeWindow {
				peers[i].Status = model.PeerConnected
			}
		}
	}
}
