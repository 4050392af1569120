// SPDX-License-Identifier: Apache-2.0
package core

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Gossip fan-out targets, following a plumtree-style eager/lazy split
// (spec.md §4.7): a small eager tier receives full messages immediately,
// a larger lazy tier only receives IHAVE announcements and pulls the
// full message via IWANT on demand.
const (
	EagerTarget = 6
	EagerCap    = 12
	LazyTarget  = 12

	seenSetCapacity    = 200_000
	seenSetTTL         = 2 * time.Minute
	messageCacheCapacity = 50_000

	// maxIHaveSources bounds how many distinct peers HandleIHave will
	// record as a source for a given message id; beyond the first (which
	// triggers an IWANT) additional sources are fallbacks only.
	maxIHaveSources = 3

	// maxIHavePerPeer bounds how many outstanding IHAVE advertisements a
	// single peer may have recorded against it, so a peer cannot grow
	// this node's memory unboundedly by fabricating ids.
	maxIHavePerPeer = 1000

	// maxIWantBatch truncates an incoming IWANT request to its first N
	// ids (spec.md §4.7, invariant 10: bounded amplification).
	maxIWantBatch = 100

	// iwantBurst and iwantMinInterval implement the per-peer IWANT token
	// bucket: burst of 1 with a 100ms minimum refill interval, so the rate
	// is enforced from the very first request rather than admitting a
	// multi-request burst before throttling kicks in (spec.md §4.7).
	iwantBurst       = 1
	iwantMinInterval = 100 * time.Millisecond
)

var gossipLogger = log.WithField("component", "gossip")

// GossipSender abstracts the outbound path so GossipEngine does not
// depend on PeerRegistry directly, easing unit testing.
type GossipSender interface {
	SendEnvelope(peer PeerId, env *Envelope) error
}

// ReputationSource supplies peer reputation scores to Rebalance, so the
// gossip engine can graft/prune by standing without depending on
// PeerRegistry directly.
type ReputationSource interface {
	ReputationOf(id PeerId) int
}

// ihaveRecord tracks who has advertised a given message id to us, so
// HandleIWant can refuse to serve a peer that never received an IHAVE
// for the id it is requesting (spec.md §4.7, invariant 10).
type ihaveRecord struct {
	sources map[PeerId]struct{}
}

// GossipEngine implements the two-tier broadcast and pull protocol
// described in spec.md §4.7: BroadcastPriority pushes full messages to
// the eager tier and IHAVE to the lazy tier; HandleIHave/HandleIWant
// implement the pull path; Rebalance promotes/demotes peers between
// tiers by reputation; Cleanup evicts stale bookkeeping.
type GossipEngine struct {
	self   PeerId
	sender GossipSender
	rep    ReputationSource

	mu    sync.Mutex
	eager map[PeerId]struct{}
	lazy  map[PeerId]struct{}

	seen  *expirable.LRU[Hash, struct{}]
	cache *expirable.LRU[Hash, *Envelope]

	// advertisedTo[peer][msgID] records that this node has sent peer an
	// IHAVE for msgID, the only condition under which HandleIWant will
	// serve that peer's request for it.
	advertisedTo map[PeerId]map[Hash]struct{}
	// sources[msgID] records which peers have advertised msgID to us.
	sources map[Hash]*ihaveRecord

	limiters map[PeerId]*rate.Limiter
}

// NewGossipEngine constructs a GossipEngine for self, sending through
// sender. rep may be nil; Rebalance becomes a no-op without it.
func NewGossipEngine(self PeerId, sender GossipSender, rep ReputationSource) *GossipEngine {
	onEvict := func(_ Hash, _ *Envelope) {}
	g := &GossipEngine{
		self:         self,
		sender:       sender,
		rep:          rep,
		eager:        make(map[PeerId]struct{}),
		lazy:         make(map[PeerId]struct{}),
		advertisedTo: make(map[PeerId]map[Hash]struct{}),
		sources:      make(map[Hash]*ihaveRecord),
		limiters:     make(map[PeerId]*rate.Limiter),
	}
	g.cache = expirable.NewLRU[Hash, *Envelope](messageCacheCapacity, onEvict, seenSetTTL)
	g.seen = expirable.NewLRU[Hash, struct{}](seenSetCapacity, func(id Hash, _ struct{}) {
		// A seen entry expiring past its TTL means the cached full
		// message (if any) is no longer servable: drop it too, per
		// spec.md §4.7's cleanup contract.
		g.cache.Remove(id)
	}, seenSetTTL)
	return g
}

// AddPeer places a newly connected peer into the eager tier if it has
// room, else the lazy tier, following the plumtree convention that a
// fresh link starts eager and Rebalance demotes the redundant ones.
func (g *GossipEngine) AddPeer(id PeerId) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.eager) < EagerTarget {
		g.eager[id] = struct{}{}
	} else {
		g.lazy[id] = struct{}{}
	}
	g.limiters[id] = rate.NewLimiter(rate.Every(iwantMinInterval), iwantBurst)
}

// RemovePeer drops id from both tiers and all per-peer bookkeeping,
// called on disconnect or ban.
func (g *GossipEngine) RemovePeer(id PeerId) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.eager, id)
	delete(g.lazy, id)
	delete(g.limiters, id)
	delete(g.advertisedTo, id)
	for _, rec := range g.sources {
		delete(rec.sources, id)
	}
}

// EagerCount and LazyCount report current tier membership, used by
// tests and operational metrics.
func (g *GossipEngine) EagerCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.eager)
}

func (g *GossipEngine) LazyCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.lazy)
}

// BroadcastPriority pushes env's full body to every eager peer and an
// IHAVE announcement to every lazy peer, for latency-sensitive messages
// (block proposals, votes) where the pull-based lazy path would be too
// slow (spec.md §4.7).
func (g *GossipEngine) BroadcastPriority(env *Envelope) {
	g.broadcast(env)
}

// BroadcastStandard sends an IHAVE to every connected peer (eager and
// lazy alike) rather than a full push, for non-latency-critical traffic
// such as transaction gossip (spec.md §4.7).
func (g *GossipEngine) BroadcastStandard(env *Envelope) {
	digest := env.Digest()
	if _, dup := g.seen.Get(digest); dup {
		return
	}
	g.seen.Add(digest, struct{}{})
	g.cache.Add(digest, env)

	g.mu.Lock()
	peers := make([]PeerId, 0, len(g.eager)+len(g.lazy))
	for id := range g.eager {
		peers = append(peers, id)
	}
	for id := range g.lazy {
		peers = append(peers, id)
	}
	g.mu.Unlock()

	for _, id := range peers {
		if id == env.Sender {
			continue
		}
		g.sendIHave(id, digest)
	}
}

func (g *GossipEngine) broadcast(env *Envelope) {
	digest := env.Digest()
	if _, dup := g.seen.Get(digest); dup {
		return
	}
	g.seen.Add(digest, struct{}{})
	g.cache.Add(digest, env)

	g.mu.Lock()
	eagerPeers := make([]PeerId, 0, len(g.eager))
	for id := range g.eager {
		eagerPeers = append(eagerPeers, id)
	}
	lazyPeers := make([]PeerId, 0, len(g.lazy))
	for id := range g.lazy {
		lazyPeers = append(lazyPeers, id)
	}
	g.mu.Unlock()

	full := NewEnvelope(MsgGossipFullMessage, g.self, env.Encode())
	for _, id := range eagerPeers {
		if id == env.Sender {
			continue
		}
		g.send(id, full)
	}
	for _, id := range lazyPeers {
		if id == env.Sender {
			continue
		}
		g.sendIHave(id, digest)
	}
}

// sendIHave sends an IHAVE for digest to id and records that the
// advertisement was made, so a subsequent IWANT from id for this digest
// passes HandleIWant's cache-probe check.
func (g *GossipEngine) sendIHave(id PeerId, digest Hash) {
	g.mu.Lock()
	set, ok := g.advertisedTo[id]
	if !ok {
		set = make(map[Hash]struct{})
		g.advertisedTo[id] = set
	}
	if len(set) < maxIHavePerPeer {
		set[digest] = struct{}{}
	}
	g.mu.Unlock()

	ihave := NewEnvelope(MsgGossipIHave, g.self, digest[:])
	g.send(id, ihave)
}

func (g *GossipEngine) send(id PeerId, env *Envelope) {
	if err := g.sender.SendEnvelope(id, env); err != nil {
		gossipLogger.WithError(err).WithField("peer", id).Debug("gossip: send failed")
	}
}

// HandleIHave processes an IHAVE announcement for digest from from. If
// digest is already known, it is ignored. Otherwise from is recorded as
// a source (up to maxIHaveSources); the first recorded source triggers
// an IWANT back to from, subsequent sources are fallbacks only, never
// re-requests (spec.md §4.7).
func (g *GossipEngine) HandleIHave(from PeerId, digest Hash) {
	if _, known := g.seen.Get(digest); known {
		return
	}
	g.mu.Lock()
	rec, ok := g.sources[digest]
	if !ok {
		rec = &ihaveRecord{sources: make(map[PeerId]struct{})}
		g.sources[digest] = rec
	}
	if len(rec.sources) >= maxIHaveSources {
		g.mu.Unlock()
		return
	}
	_, alreadySource := rec.sources[from]
	isFirst := len(rec.sources) == 0
	if !alreadySource {
		rec.sources[from] = struct{}{}
	}
	g.mu.Unlock()

	if alreadySource {
		return
	}
	if isFirst {
		iwant := NewEnvelope(MsgGossipIWant, g.self, digest[:])
		g.send(from, iwant)
	}
}

// HandleIWant processes a batch IWANT request from a peer: the batch is
// truncated to its first maxIWantBatch ids, the whole request is subject
// to a 10/s-with-100ms-min-interval per-peer token bucket, and each id
// is served only if this node previously advertised it to from via
// IHAVE and the message is still cached — otherwise an unsolicited peer
// could probe for cached content it was never told about (spec.md
// §4.7, invariant 10; scenarios S5, S6).
func (g *GossipEngine) HandleIWant(from PeerId, digests []Hash) {
	if len(digests) > maxIWantBatch {
		digests = digests[:maxIWantBatch]
	}

	g.mu.Lock()
	limiter, ok := g.limiters[from]
	g.mu.Unlock()
	if !ok || !limiter.Allow() {
		gossipLogger.WithField("peer", from).Warn("gossip: iwant rate limit exceeded, dropping")
		return
	}

	for _, digest := range digests {
		g.mu.Lock()
		advertised := false
		if set, ok := g.advertisedTo[from]; ok {
			_, advertised = set[digest]
		}
		g.mu.Unlock()
		if !advertised {
			continue
		}
		env, ok := g.cache.Get(digest)
		if !ok {
			continue
		}
		full := NewEnvelope(MsgGossipFullMessage, g.self, env.Encode())
		g.send(from, full)
	}
}

// HandleFullMessage processes a fully-delivered message pushed eagerly
// or pulled via IWANT: if unseen, it is marked seen and handed to
// onMessage at most once per TTL window (spec.md §4.7, invariant 9), and
// forwarded through the same eager/lazy fan-out as BroadcastPriority.
// If from was in the lazy tier and the eager tier has room, from is
// promoted to eager; otherwise it stays lazy (spec.md §4.7).
func (g *GossipEngine) HandleFullMessage(from PeerId, raw []byte, onMessage func(*Envelope)) error {
	env, err := DecodeEnvelope(raw)
	if err != nil {
		return WrapErr(ErrInvalidFrame, err, "gossip: decode full message")
	}
	digest := env.Digest()
	if _, dup := g.seen.Get(digest); dup {
		return nil
	}
	// broadcast marks digest seen, caches env and forwards it.
	g.broadcast(env)

	g.mu.Lock()
	_, wasLazy := g.lazy[from]
	if wasLazy && len(g.eager) < EagerCap {
		delete(g.lazy, from)
		g.eager[from] = struct{}{}
	}
	g.mu.Unlock()

	if onMessage != nil {
		onMessage(env)
	}
	return nil
}

// Rebalance grafts the highest-reputation lazy peer into the eager tier
// while the eager tier is under EagerTarget, and prunes the
// lowest-reputation eager peer into the lazy tier while the eager tier
// exceeds EagerCap (spec.md §4.7). A nil ReputationSource makes this a
// no-op: grafting/pruning by standing requires a source of standing.
func (g *GossipEngine) Rebalance() {
	if g.rep == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	for len(g.eager) < EagerTarget && len(g.lazy) > 0 {
		best, bestRep, found := PeerId{}, 0, false
		for id := range g.lazy {
			r := g.rep.ReputationOf(id)
			if !found || r > bestRep {
				best, bestRep, found = id, r, true
			}
		}
		if !found {
			break
		}
		delete(g.lazy, best)
		g.eager[best] = struct{}{}
	}

	for len(g.eager) > EagerCap {
		worst, worstRep, found := PeerId{}, 0, false
		for id := range g.eager {
			r := g.rep.ReputationOf(id)
			if !found || r < worstRep {
				worst, worstRep, found = id, r, true
			}
		}
		if !found {
			break
		}
		delete(g.eager, worst)
		g.lazy[worst] = struct{}{}
	}
}

// Cleanup drops per-peer IHAVE correlation state for any peer not in
// alive; the seen-set and message cache expire themselves on their own
// TTL (spec.md §4.7).
func (g *GossipEngine) Cleanup(alive map[PeerId]struct{}) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id := range g.advertisedTo {
		if _, ok := alive[id]; !ok {
			delete(g.advertisedTo, id)
			delete(g.limiters, id)
		}
	}
	for digest, rec := range g.sources {
		for id := range rec.sources {
			if _, ok := alive[id]; !ok {
				delete(rec.sources, id)
			}
		}
		if len(rec.sources) == 0 {
			delete(g.sources, digest)
		}
	}
}
