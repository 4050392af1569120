// SPDX-License-Identifier: Apache-2.0
package core

// Reputation bounds and event deltas (spec.md §4.6). A peer's score
// starts at DefaultReputation, moves within [MinReputation,
// MaxReputation], decays toward DefaultReputation over time absent new
// events, is treated as low-standing once it falls to or below
// LowReputationThreshold (a candidate for gossip demotion and lower
// sync priority), and is auto-banned (its score set to MinReputation)
// once it falls to or below AutobanThreshold.
const (
	MinReputation     = 0
	DefaultReputation = 100
	MaxReputation     = 200

	LowReputationThreshold = 30
	AutobanThreshold       = 10
)

// ReputationEvent names an observable peer behavior with an associated
// score delta (spec.md §4.6).
type ReputationEvent int

const (
	EventValidBlock ReputationEvent = iota
	EventInvalidBlock
	EventValidTx
	EventInvalidTx
	EventValidVote
	EventInvalidVote
	EventTimelyResponse
	EventTimeout
	EventProtocolViolation
	EventSuccessfulHandshake
	EventFailedHandshake
	EventDuplicateMessage
)

func reputationDelta(e ReputationEvent) int {
	switch e {
	case EventValidBlock:
		return 5
	case EventInvalidBlock:
		return -50
	case EventValidTx:
		return 1
	case EventInvalidTx:
		return -10
	case EventValidVote:
		return 3
	case EventInvalidVote:
		return -30
	case EventTimelyResponse:
		return 2
	case EventTimeout:
		return -5
	case EventProtocolViolation:
		return -20
	case EventSuccessfulHandshake:
		return 10
	case EventFailedHandshake:
		return -15
	case EventDuplicateMessage:
		return -1
	default:
		return 0
	}
}

// ApplyReputationEvent updates id's score for event e, banning the peer
// outright if the resulting score falls to or below AutobanThreshold.
func (r *PeerRegistry) ApplyReputationEvent(id PeerId, e ReputationEvent) {
	r.mu.Lock()
	p, ok := r.peers[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	p.Reputation += reputationDelta(e)
	if p.Reputation > MaxReputation {
		p.Reputation = MaxReputation
	}
	if p.Reputation < MinReputation {
		p.Reputation = MinReputation
	}
	shouldBan := p.Reputation <= AutobanThreshold
	r.mu.Unlock()

	if shouldBan {
		r.Ban(id, "reputation below autoban threshold")
	}
}

// ReputationOf returns id's current reputation score, or MinReputation
// if id is unknown, satisfying gossip's ReputationSource interface so
// Rebalance can graft/prune by standing.
func (r *PeerRegistry) ReputationOf(id PeerId) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[id]
	if !ok {
		return MinReputation
	}
	return p.Reputation
}

// IsLowReputation reports whether id's score is at or below
// LowReputationThreshold, the marker spec.md §4.6 uses to deprioritize a
// peer for sync service and gossip tier placement without outright
// banning it.
func (r *PeerRegistry) IsLowReputation(id PeerId) bool {
	return r.ReputationOf(id) <= LowReputationThreshold
}

// DecayReputation nudges every non-banned peer's score one step toward
// DefaultReputation, called periodically so that a peer's past behavior
// gradually stops dominating its standing (spec.md §4.6).
func (r *PeerRegistry) DecayReputation() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.peers {
		if p.State == PeerBanned {
			continue
		}
		switch {
		case p.Reputation < DefaultReputation:
			p.Reputation++
		case p.Reputation > DefaultReputation:
			p.Reputation--
		}
	}
}
