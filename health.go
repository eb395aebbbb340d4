package meshnode

import (
	"strconv"
	"time"
)

// NodeID identifies a device in the mesh. IDs are assigned out of band, one per
// device, and are unique within a mesh.
type NodeID uint8

// BroadcastID addresses every node in radio range.
const BroadcastID NodeID = 0xFF

func (id NodeID) String() string {
	if id == BroadcastID {
		return "broadcast"
	}
	return strconv.Itoa(int(id))
}

// PeerHealth describes a peer's reachability as seen by the local node.
type PeerHealth uint8

const (
	PeerAlive PeerHealth = iota // heard from within the dead threshold
	PeerDead                    // silent for longer than the dead threshold
)

func (h PeerHealth) String() string {
	switch h {
	case PeerAlive:
		return "alive"
	case PeerDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Peer is one registry record.
type Peer struct {
	ID       NodeID
	LastSeen time.Time
	Alive    bool
}

// Health returns the peer's health as an enum.
func (p Peer) Health() PeerHealth {
	if p.Alive {
		return PeerAlive
	}
	return PeerDead
}

// PeerStatus is the reporting view of a peer.
type PeerStatus struct {
	ID    NodeID
	Alive bool
}

// HealthSummary counts peers by health. Total is always Alive + Dead.
type HealthSummary struct {
	Total int
	Alive int
	Dead  int
}

// HasReachablePeers returns true if any peer is currently alive.
func (s HealthSummary) HasReachablePeers() bool {
	return s.Alive > 0
}
