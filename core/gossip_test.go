// SPDX-License-Identifier: Apache-2.0
package core

import (
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type recordingSender struct {
	mu  sync.Mutex
	out map[PeerId][]*Envelope
}

func newRecordingSender() *recordingSender {
	return &recordingSender{out: make(map[PeerId][]*Envelope)}
}

func (s *recordingSender) SendEnvelope(peer PeerId, env *Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out[peer] = append(s.out[peer], env)
	return nil
}

func (s *recordingSender) countByType(peer PeerId, t MessageType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.out[peer] {
		if e.Type == t {
			n++
		}
	}
	return n
}

func (s *recordingSender) last(peer PeerId) *Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.out[peer]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

type staticReputation map[PeerId]int

func (m staticReputation) ReputationOf(id PeerId) int {
	return m[id]
}

func testPeerID(b byte) PeerId {
	var id PeerId
	id[0] = b
	return id
}

func TestGossipBroadcastPriorityDeliversAtMostOnce(t *testing.T) {
	self := testPeerID(1)
	sender := newRecordingSender()
	g := NewGossipEngine(self, sender, nil)

	eagerPeer := testPeerID(2)
	g.AddPeer(eagerPeer)

	env := NewEnvelope(MsgTxPayload, self, []byte("payload"))
	g.BroadcastPriority(env)
	g.BroadcastPriority(env)

	require.Equal(t, 1, sender.countByType(eagerPeer, MsgGossipFullMessage),
		"broadcasting the same envelope twice must only deliver once")
}

func TestGossipHandleIWantOnlyServesAdvertisedDigests(t *testing.T) {
	self := testPeerID(1)
	sender := newRecordingSender()
	g := NewGossipEngine(self, sender, nil)

	lazyPeer := testPeerID(2)
	// Force lazyPeer into the lazy tier by filling the eager tier first.
	for i := byte(10); i < 10+EagerTarget; i++ {
		g.AddPeer(testPeerID(i))
	}
	g.AddPeer(lazyPeer)
	require.Contains(t, g.lazy, lazyPeer)

	env := NewEnvelope(MsgTxPayload, self, []byte("payload"))
	g.BroadcastPriority(env)
	require.Equal(t, 1, sender.countByType(lazyPeer, MsgGossipIHave))

	digest := env.Digest()

	// A peer that was never advertised this digest must not get it back.
	neverToldPeer := testPeerID(99)
	g.limiters[neverToldPeer] = rate.NewLimiter(rate.Every(iwantMinInterval), iwantBurst)
	g.HandleIWant(neverToldPeer, []Hash{digest})
	require.Equal(t, 0, sender.countByType(neverToldPeer, MsgGossipFullMessage),
		"a peer must not be able to probe for content it was never told about via IHAVE")

	// The peer that WAS advertised the digest can pull it.
	g.HandleIWant(lazyPeer, []Hash{digest})
	require.Equal(t, 1, sender.countByType(lazyPeer, MsgGossipFullMessage))
}

func TestGossipHandleIHaveOnlyRequestsFromFirstSource(t *testing.T) {
	self := testPeerID(1)
	sender := newRecordingSender()
	g := NewGossipEngine(self, sender, nil)

	peerA := testPeerID(2)
	peerB := testPeerID(3)
	peerC := testPeerID(4)
	g.AddPeer(peerA)
	g.AddPeer(peerB)
	g.AddPeer(peerC)

	var digest Hash
	digest[0] = 0x55

	g.HandleIHave(peerA, digest)
	g.HandleIHave(peerB, digest)
	g.HandleIHave(peerC, digest)

	require.Equal(t, 1, sender.countByType(peerA, MsgGossipIWant))
	require.Equal(t, 0, sender.countByType(peerB, MsgGossipIWant),
		"only the first source of a digest should trigger an outbound IWANT")
	require.Equal(t, 0, sender.countByType(peerC, MsgGossipIWant))
}

func TestGossipHandleIWantOversizedBatchOfUncachedDigestsSendsNothing(t *testing.T) {
	self := testPeerID(1)
	sender := newRecordingSender()
	g := NewGossipEngine(self, sender, nil)

	peer := testPeerID(2)
	g.AddPeer(peer)

	oversized := make([]Hash, maxIWantBatch+50)
	for i := range oversized {
		oversized[i][0] = byte(i)
	}
	g.mu.Lock()
	set := make(map[Hash]struct{}, len(oversized))
	for _, d := range oversized {
		set[d] = struct{}{}
	}
	g.advertisedTo[peer] = set
	g.mu.Unlock()

	// None of these digests are cached, so no full messages go out, but
	// the call itself must not panic or block on an oversized batch.
	g.HandleIWant(peer, oversized)
	require.Equal(t, 0, sender.countByType(peer, MsgGossipFullMessage))
}

func TestGossipHandleFullMessageDeliversOnceAndPromotesLazyPeer(t *testing.T) {
	self := testPeerID(1)
	sender := newRecordingSender()
	g := NewGossipEngine(self, sender, nil)

	for i := byte(10); i < 10+EagerTarget; i++ {
		g.AddPeer(testPeerID(i))
	}
	lazyPeer := testPeerID(200)
	g.AddPeer(lazyPeer)
	require.Contains(t, g.lazy, lazyPeer)

	sourcePeer := testPeerID(201)
	env := NewEnvelope(MsgTxPayload, sourcePeer, []byte("payload"))

	var delivered int
	onMessage := func(*Envelope) { delivered++ }

	require.NoError(t, g.HandleFullMessage(lazyPeer, env.Encode(), onMessage))
	require.Equal(t, 1, delivered)
	require.Contains(t, g.eager, lazyPeer, "a lazy peer delivering a full message must be promoted when eager has room")

	// Redelivering the identical bytes must not invoke onMessage again.
	require.NoError(t, g.HandleFullMessage(lazyPeer, env.Encode(), onMessage))
	require.Equal(t, 1, delivered)
}

func TestGossipRebalanceGraftsHighestAndPrunesLowestReputation(t *testing.T) {
	self := testPeerID(1)
	sender := newRecordingSender()
	rep := staticReputation{}
	g := NewGossipEngine(self, sender, rep)

	// Fill eager to EagerTarget with low-reputation peers.
	for i := byte(1); i <= EagerTarget; i++ {
		id := testPeerID(i)
		rep[id] = 10
		g.AddPeer(id)
	}
	bestLazy := testPeerID(250)
	rep[bestLazy] = 200
	g.AddPeer(bestLazy)
	require.Contains(t, g.lazy, bestLazy)

	// Drop one eager peer so the eager tier is under target.
	g.RemovePeer(testPeerID(1))

	g.Rebalance()
	require.Contains(t, g.eager, bestLazy, "the highest-reputation lazy peer should be grafted while eager is under target")

	// Now push eager over cap with a very-low-reputation peer and confirm
	// it gets pruned back to lazy.
	worst := testPeerID(251)
	rep[worst] = -100
	g.mu.Lock()
	g.eager[worst] = struct{}{}
	g.mu.Unlock()
	for len(g.eager) <= EagerCap {
		extra := testPeerID(byte(60 + len(g.eager)))
		rep[extra] = 50
		g.mu.Lock()
		g.eager[extra] = struct{}{}
		g.mu.Unlock()
	}

	g.Rebalance()
	require.NotContains(t, g.eager, worst, "the lowest-reputation eager peer should be pruned once over cap")
	require.Contains(t, g.lazy, worst)
}

func TestGossipRebalanceIsNoOpWithoutReputationSource(t *testing.T) {
	self := testPeerID(1)
	sender := newRecordingSender()
	g := NewGossipEngine(self, sender, nil)

	for i := byte(1); i <= EagerTarget; i++ {
		g.AddPeer(testPeerID(i))
	}
	lazyPeer := testPeerID(250)
	g.AddPeer(lazyPeer)

	require.NotPanics(t, g.Rebalance)
	require.Contains(t, g.lazy, lazyPeer, "without a ReputationSource, Rebalance must not move any peer")
}

func TestGossipCleanupDropsBookkeepingForDeadPeers(t *testing.T) {
	self := testPeerID(1)
	sender := newRecordingSender()
	g := NewGossipEngine(self, sender, nil)

	peer := testPeerID(2)
	g.AddPeer(peer)

	var digest Hash
	digest[0] = 1
	g.sendIHave(peer, digest)
	g.HandleIHave(peer, Hash{9})

	g.Cleanup(map[PeerId]struct{}{})

	g.mu.Lock()
	_, stillAdvertised := g.advertisedTo[peer]
	g.mu.Unlock()
	require.False(t, stillAdvertised)
}

func TestGossipSeenSetExpiresAfterTTL(t *testing.T) {
	self := testPeerID(1)
	sender := newRecordingSender()
	g := NewGossipEngine(self, sender, nil)
	g.seen = expirable.NewLRU[Hash, struct{}](seenSetCapacity, func(id Hash, _ struct{}) {
		g.cache.Remove(id)
	}, 20*time.Millisecond)

	env := NewEnvelope(MsgTxPayload, self, []byte("expiring"))
	digest := env.Digest()
	g.seen.Add(digest, struct{}{})
	require.Eventually(t, func() bool {
		_, ok := g.seen.Get(digest)
		return !ok
	}, 500*time.Millisecond, 5*time.Millisecond)
}
