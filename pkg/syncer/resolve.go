package syncer

import "peer-sync/pkg/model"

// Side names the store whose version of a peer wins a conflict.
type Side string

const (
	SideCloud Side = "cloud"
	SideLocal Side = "local"
)

// Resolve picks the winning side for a peer present in both stores with differing
// updated_at. It has no side effects. Under newest_wins an exact tie goes to the cloud.
func Resolve(cloud, local model.Peer, policy model.ConflictPolicy) Side {
	switch policy {
	case model.LocalWins:
		return SideLocal
	case model.NewestWins:
		if local.Version().After(cloud.Version()) {
			return SideLocal
		}
		return SideCloud
	default:
		return SideCloud
	}
}
