// Package registry keeps the local view of which mesh peers are alive.
//
// Membership is append-only: a peer that goes silent is marked dead but keeps
// its record, and a peer that comes back updates that same record.
package registry

import (
	"sync"
	"time"

	"meshnode"
	"meshnode/internal/check"
)

type peerState struct {
	id       meshnode.NodeID
	lastSeen time.Time
	alive    bool
}

// Registry is an insertion-ordered table of peers keyed by node ID.
// It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	peers []*peerState
	index map[meshnode.NodeID]*peerState
	alive int

	onDead func(meshnode.Peer)
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		index: make(map[meshnode.NodeID]*peerState),
	}
}

// OnDead registers fn to be called once for every alive → dead transition
// made by SweepDead. fn runs after the registry lock is released.
func (r *Registry) OnDead(fn func(meshnode.Peer)) {
	r.mu.Lock()
	r.onDead = fn
	r.mu.Unlock()
}

// Upsert records that id was heard from at now. An unknown id is appended;
// a known id is marked alive and its last-seen time moves forward only.
func (r *Registry) Upsert(id meshnode.NodeID, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.index[id]
	if !ok {
		p = &peerState{id: id, lastSeen: now, alive: true}
		r.peers = append(r.peers, p)
		r.index[id] = p
		r.alive++
		return
	}

	if now.After(p.lastSeen) {
		p.lastSeen = now
	}
	if !p.alive {
		p.alive = true
		r.alive++
	}
}

// SweepDead marks every alive peer silent for longer than threshold as dead
// and returns the peers that transitioned. It never revives a peer.
func (r *Registry) SweepDead(now time.Time, threshold time.Duration) []meshnode.Peer {
	r.mu.Lock()
	var died []meshnode.Peer
	for _, p := range r.peers {
		if p.alive && now.Sub(p.lastSeen) > threshold {
			p.alive = false
			r.alive--
			died = append(died, p.export())
		}
	}
	notify := r.onDead
	r.mu.Unlock()

	if notify != nil {
		for _, p := range died {
			notify(p)
		}
	}
	return died
}

// Counts returns the number of known, alive and dead peers.
func (r *Registry) Counts() meshnode.HealthSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	check.Invariant(r.alive >= 0 && r.alive <= len(r.peers),
		"alive count %d out of range for %d peers", r.alive, len(r.peers))
	return meshnode.HealthSummary{
		Total: len(r.peers),
		Alive: r.alive,
		Dead:  len(r.peers) - r.alive,
	}
}

// Snapshot returns the peers in insertion order. The slice is a copy and is
// not updated by later registry changes.
func (r *Registry) Snapshot() []meshnode.PeerStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]meshnode.PeerStatus, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, meshnode.PeerStatus{ID: p.id, Alive: p.alive})
	}
	return out
}

// Peer returns the full record for id.
func (r *Registry) Peer(id meshnode.NodeID) (meshnode.Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.index[id]
	if !ok {
		return meshnode.Peer{}, false
	}
	return p.export(), true
}

func (p *peerState) export() meshnode.Peer {
	return meshnode.Peer{ID: p.id, LastSeen: p.lastSeen, Alive: p.alive}
}
