// SPDX-License-Identifier: Apache-2.0
package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPeerRegistryApplyReputationEventAutobansAtThreshold(t *testing.T) {
	r := NewPeerRegistry()
	id := testPeerID(1)
	require.NoError(t, r.Register(id, "10.0.0.1:30303", nil))

	for i := 0; i < 2; i++ {
		r.ApplyReputationEvent(id, EventInvalidBlock) // -50 each
	}
	require.True(t, r.IsBanned(id), "reputation falling to or below AutobanThreshold must ban the peer")

	info, ok := r.Get(id)
	require.True(t, ok)
	require.Equal(t, PeerBanned, info.State)
	require.Equal(t, MinReputation, info.Reputation)
}

func TestPeerRegistryApplyReputationEventClampsToBounds(t *testing.T) {
	r := NewPeerRegistry()
	id := testPeerID(2)
	require.NoError(t, r.Register(id, "", nil))

	for i := 0; i < 30; i++ {
		r.ApplyReputationEvent(id, EventValidBlock) // +5 each, would overflow MaxReputation
	}
	if !r.IsBanned(id) {
		info, _ := r.Get(id)
		require.LessOrEqual(t, info.Reputation, MaxReputation)
	}
}

func TestPeerRegistryIsLowReputationThreshold(t *testing.T) {
	r := NewPeerRegistry()
	id := testPeerID(3)
	require.NoError(t, r.Register(id, "", nil))
	require.False(t, r.IsLowReputation(id), "a freshly registered peer starts at DefaultReputation, above the low-reputation threshold")

	r.ApplyReputationEvent(id, EventInvalidVote) // -30, brings 100 -> 70
	require.False(t, r.IsLowReputation(id))

	r.ApplyReputationEvent(id, EventInvalidVote) // 70 -> 40
	require.False(t, r.IsLowReputation(id))

	r.ApplyReputationEvent(id, EventInvalidVote) // 40 -> 10, at/below LowReputationThreshold
	require.True(t, r.IsLowReputation(id))
}

func TestPeerRegistryReputationOfUnknownPeerIsMinReputation(t *testing.T) {
	r := NewPeerRegistry()
	require.Equal(t, MinReputation, r.ReputationOf(testPeerID(250)))
}

func TestPeerRegistryDecayMovesTowardDefault(t *testing.T) {
	r := NewPeerRegistry()
	id := testPeerID(4)
	require.NoError(t, r.Register(id, "", nil))

	r.ApplyReputationEvent(id, EventInvalidTx) // 100 -> 90
	info, _ := r.Get(id)
	require.Equal(t, 90, info.Reputation)

	r.DecayReputation()
	info, _ = r.Get(id)
	require.Equal(t, 91, info.Reputation, "decay should move a below-default score one step toward DefaultReputation")
}

func TestPeerRegistryDecaySkipsBannedPeers(t *testing.T) {
	r := NewPeerRegistry()
	id := testPeerID(5)
	r.Ban(id, "test")
	r.DecayReputation()
	info, ok := r.Get(id)
	require.True(t, ok)
	require.Equal(t, MinReputation, info.Reputation, "decay must not touch a banned peer's reputation")
}

func TestPeerRegistryPruneInactiveSkipsStaticAndConnectedPeers(t *testing.T) {
	r := NewPeerRegistry()
	staticID := testPeerID(1)
	connectedID := testPeerID(2)
	staleID := testPeerID(3)

	r.AddStatic(staticID, "10.0.0.1:30303")
	require.NoError(t, r.Register(connectedID, "10.0.0.2:30303", nil))
	require.NoError(t, r.Register(staleID, "10.0.0.3:30303", nil))
	r.Disconnect(staleID)

	// Move the cutoff an hour ahead so every peer's LastSeen is before it;
	// only disconnected, non-static peers should go.
	cutoff := time.Now().Add(1 * time.Hour)

	removed := r.PruneInactive(cutoff)
	require.Equal(t, 1, removed)
	require.Equal(t, 2, r.Len())

	_, staticStillKnown := r.Get(staticID)
	require.True(t, staticStillKnown)
	_, connectedStillKnown := r.Get(connectedID)
	require.True(t, connectedStillKnown)
	_, staleStillKnown := r.Get(staleID)
	require.False(t, staleStillKnown)
}

func TestPeerRegistryRegisterRejectsBannedPeer(t *testing.T) {
	r := NewPeerRegistry()
	id := testPeerID(6)
	r.Ban(id, "misbehavior")

	err := r.Register(id, "10.0.0.9:30303", nil)
	require.Error(t, err)
	coreErr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, ErrBanned, coreErr.Code)
}

func TestPeerRegistryRegisterEnforcesMaxPeers(t *testing.T) {
	r := NewPeerRegistry()
	for i := 0; i < MaxPeers; i++ {
		require.NoError(t, r.Register(testPeerID(byte(i)), "", nil))
	}
	err := r.Register(testPeerID(250), "", nil)
	require.Error(t, err)
	coreErr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, ErrConnectionLimit, coreErr.Code)
}
