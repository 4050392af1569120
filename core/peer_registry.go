// SPDX-License-Identifier: Apache-2.0
package core

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// PeerState is a peer's position in its connection lifecycle (spec.md
// §4.6): Disconnected -> Connecting -> Handshaking -> Connected, with a
// terminal Banned state reachable from any of the above.
type PeerState uint8

const (
	PeerDisconnected PeerState = iota
	PeerConnecting
	PeerHandshaking
	PeerConnected
	PeerBanned
)

func (s PeerState) String() string {
	switch s {
	case PeerDisconnected:
		return "disconnected"
	case PeerConnecting:
		return "connecting"
	case PeerHandshaking:
		return "handshaking"
	case PeerConnected:
		return "connected"
	case PeerBanned:
		return "banned"
	default:
		return "unknown"
	}
}

// MaxPeers bounds the peer registry's active membership (spec.md §4.6).
const MaxPeers = 50

// PeerInfo is the registry's record for one known peer.
type PeerInfo struct {
	Id         PeerId
	Address    string // host:port, empty if never dialed directly
	State      PeerState
	Static     bool // never pruned for inactivity
	Reputation int
	LastSeen   time.Time
	Conn       *SecureConnection
}

var registryLogger = log.WithField("component", "peer_registry")

// PeerRegistry tracks every peer the node knows about: statically
// configured bootstrap peers, peers discovered via gossip, and peers
// currently connected (spec.md §4.6).
type PeerRegistry struct {
	mu    sync.RWMutex
	peers map[PeerId]*PeerInfo
}

// NewPeerRegistry returns an empty registry.
func NewPeerRegistry() *PeerRegistry {
	return &PeerRegistry{peers: make(map[PeerId]*PeerInfo)}
}

// AddStatic registers a statically-configured peer that is never pruned
// for inactivity.
func (r *PeerRegistry) AddStatic(id PeerId, addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[id] = &PeerInfo{Id: id, Address: addr, State: PeerDisconnected, Static: true, Reputation: DefaultReputation, LastSeen: time.Now()}
}

// AddDiscovered records a peer learned via a Kademlia Nodes response
// without dialing it yet, leaving it a candidate for a future connection
// attempt. Unlike a static peer it is still subject to PruneInactive,
// and an existing entry for id (static, connected, or otherwise) is left
// untouched rather than overwritten.
func (r *PeerRegistry) AddDiscovered(id PeerId, addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, known := r.peers[id]; known {
		return
	}
	r.peers[id] = &PeerInfo{Id: id, Address: addr, State: PeerDisconnected, Reputation: DefaultReputation, LastSeen: time.Now()}
}

// Register records a newly connected peer, replacing any prior entry
// with the same id. Returns ErrConnectionLimit if the registry is
// already at MaxPeers and the peer is not already known.
func (r *PeerRegistry) Register(id PeerId, addr string, conn *SecureConnection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, known := r.peers[id]
	if !known && len(r.peers) >= MaxPeers {
		return NewError(ErrConnectionLimit, "peer registry full")
	}
	if known && existing.State == PeerBanned {
		return NewError(ErrBanned, "peer is banned")
	}

	rep := DefaultReputation
	static := false
	if known {
		rep = existing.Reputation
		static = existing.Static
	}
	r.peers[id] = &PeerInfo{
		Id: id, Address: addr, State: PeerConnected, Static: static,
		Reputation: rep, LastSeen: time.Now(), Conn: conn,
	}
	registryLogger.WithField("peer", id).Info("peer_registry: registered")
	return nil
}

// SetState transitions a known peer to a new lifecycle state.
func (r *PeerRegistry) SetState(id PeerId, state PeerState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.peers[id]; ok {
		p.State = state
	}
}

// Disconnect marks a peer disconnected, clearing its live connection but
// preserving its reputation and static flag.
func (r *PeerRegistry) Disconnect(id PeerId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.peers[id]; ok {
		p.State = PeerDisconnected
		p.Conn = nil
	}
}

// Ban transitions a peer to PeerBanned and drops its reputation to the
// floor; PruneInactive keeps the record and Register refuses the peer.
func (r *PeerRegistry) Ban(id PeerId, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[id]
	if !ok {
		p = &PeerInfo{Id: id}
		r.peers[id] = p
	}
	p.State = PeerBanned
	p.Reputation = MinReputation
	p.Conn = nil
	registryLogger.WithFields(log.Fields{"peer": id, "reason": reason}).Warn("peer_registry: banned")
}

// IsBanned reports whether id is currently banned.
func (r *PeerRegistry) IsBanned(id PeerId) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[id]
	return ok && p.State == PeerBanned
}

// Get returns a copy of the peer record for id, if known.
func (r *PeerRegistry) Get(id PeerId) (PeerInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[id]
	if !ok {
		return PeerInfo{}, false
	}
	return *p, true
}

// Connected returns every peer currently in PeerConnected state.
func (r *PeerRegistry) Connected() []PeerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PeerInfo, 0, len(r.peers))
	for _, p := range r.peers {
		if p.State == PeerConnected {
			out = append(out, *p)
		}
	}
	return out
}

// PruneInactive removes non-static, non-connected, non-banned peers last
// seen before cutoff, bounding unbounded growth of stale discovered peers
// (spec.md §4.6).
func (r *PeerRegistry) PruneInactive(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, p := range r.peers {
		if p.Static || p.State == PeerConnected || p.State == PeerBanned {
			continue
		}
		if p.LastSeen.Before(cutoff) {
			delete(r.peers, id)
			removed++
		}
	}
	return removed
}

// Touch refreshes a peer's LastSeen timestamp, called whenever any
// activity is observed from it (a gossip message, a ping, a successful
// dial).
func (r *PeerRegistry) Touch(id PeerId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.peers[id]; ok {
		p.LastSeen = time.Now()
	}
}

// Len returns the number of known peers, of any state.
func (r *PeerRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}
