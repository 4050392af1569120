// SPDX-License-Identifier: Apache-2.0
package core

import (
	"math/big"
	"sort"
	"sync"
)

// kademliaBuckets is one XOR-distance bucket per bit of a 32-byte PeerId.
const kademliaBuckets = PeerIdSize * 8

// KademliaTable is a minimal Kademlia-lite routing table used to answer
// FindNode lookups with the peers closest (by XOR distance) to a target
// id, without implementing a full DHT store (spec.md §4.6, FindNode).
type KademliaTable struct {
	self    PeerId
	mu      sync.RWMutex
	buckets [kademliaBuckets][]PeerId
}

// NewKademliaTable returns a routing table centered on self.
func NewKademliaTable(self PeerId) *KademliaTable {
	return &KademliaTable{self: self}
}

// AddPeer inserts id into its distance bucket relative to self, ignoring
// self-insertion and duplicates.
func (k *KademliaTable) AddPeer(id PeerId) {
	if id == k.self {
		return
	}
	idx := k.bucketIndex(id)
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, p := range k.buckets[idx] {
		if p == id {
			return
		}
	}
	k.buckets[idx] = append(k.buckets[idx], id)
}

// RemovePeer drops id from the table, called when a peer disconnects or
// is banned.
func (k *KademliaTable) RemovePeer(id PeerId) {
	idx := k.bucketIndex(id)
	k.mu.Lock()
	defer k.mu.Unlock()
	list := k.buckets[idx]
	for i, p := range list {
		if p == id {
			k.buckets[idx] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Nearest returns up to count known peer ids ordered by ascending XOR
// distance to target, answering a FindNode request (spec.md §4.8).
func (k *KademliaTable) Nearest(target PeerId, count int) []PeerId {
	k.mu.RLock()
	candidates := make([]PeerId, 0, count*2)
	for _, bucket := range k.buckets {
		candidates = append(candidates, bucket...)
	}
	k.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		return xorDistance(candidates[i], target).Cmp(xorDistance(candidates[j], target)) < 0
	})
	if len(candidates) > count {
		candidates = candidates[:count]
	}
	return candidates
}

func (k *KademliaTable) bucketIndex(id PeerId) int {
	d := xorDistance(k.self, id)
	if d.Sign() == 0 {
		return kademliaBuckets - 1
	}
	idx := kademliaBuckets - d.BitLen()
	if idx < 0 {
		idx = 0
	}
	if idx >= kademliaBuckets {
		idx = kademliaBuckets - 1
	}
	return idx
}

func xorDistance(a, b PeerId) *big.Int {
	var diff [PeerIdSize]byte
	for i := range diff {
		diff[i] = a[i] ^ b[i]
	}
	return new(big.Int).SetBytes(diff[:])
}

// kademliaClosestCount bounds how many peers a single FindNode request
// returns, mirroring the teacher's fixed alpha/k-bucket reply size
// rather than letting a requester ask for an unbounded set.
const kademliaClosestCount = 20

// FindNodeRequest asks the responder for the peers it knows closest to
// Target (spec.md §4.8).
type FindNodeRequest struct {
	Target PeerId
}

// Encode serializes the request as its bare 32-byte target id.
func (r *FindNodeRequest) Encode() []byte {
	w := NewWriter(PeerIdSize)
	w.WriteFixed(r.Target[:])
	return w.Bytes()
}

// DecodeFindNodeRequest parses an encoded FindNodeRequest.
func DecodeFindNodeRequest(b []byte) (*FindNodeRequest, error) {
	r := NewReader(b)
	target, err := r.ReadFixed(PeerIdSize)
	if err != nil {
		return nil, err
	}
	req := &FindNodeRequest{}
	copy(req.Target[:], target)
	return req, nil
}

// NodeRecord pairs a peer id with its last-known dial address, the unit
// of exchange in a NodesResponse.
type NodeRecord struct {
	Id      PeerId
	Address string
}

// NodesResponse answers a FindNodeRequest with up to kademliaClosestCount
// peers closest to the requested target, each with a dialable address.
type NodesResponse struct {
	Peers []NodeRecord
}

// Encode serializes the response as a varint count followed by each
// record's 32-byte id and length-prefixed address.
func (r *NodesResponse) Encode() []byte {
	w := NewWriter(0)
	w.WriteVarInt(uint64(len(r.Peers)))
	for _, p := range r.Peers {
		w.WriteFixed(p.Id[:])
		w.WriteBytes([]byte(p.Address))
	}
	return w.Bytes()
}

// DecodeNodesResponse parses an encoded NodesResponse.
func DecodeNodesResponse(b []byte) (*NodesResponse, error) {
	r := NewReader(b)
	n, err := r.ReadVarInt()
	if err != nil {
		return nil, err
	}
	out := &NodesResponse{Peers: make([]NodeRecord, 0, n)}
	for i := uint64(0); i < n; i++ {
		idBytes, err := r.ReadFixed(PeerIdSize)
		if err != nil {
			return nil, err
		}
		addrBytes, err := r.ReadBytes()
		if err != nil {
			return nil, err
		}
		var id PeerId
		copy(id[:], idBytes)
		out.Peers = append(out.Peers, NodeRecord{Id: id, Address: string(addrBytes)})
	}
	return out, nil
}
