// SPDX-License-Identifier: Apache-2.0
package core

import "sync"

// NodeStore persists and retrieves content-addressed trie nodes. The
// persistent implementation is backed by Badger (see store_badger.go);
// OverlayNodeStore below layers an in-memory write set atop a base store
// so that speculative forks can mutate the trie without touching the
// canonical database until finalized (spec.md §5.2).
type NodeStore interface {
	GetNode(h Hash) (*TrieNode, error)
	PutNode(h Hash, n *TrieNode) error
}

// MemNodeStore is a pure in-memory NodeStore, used for tests and for the
// root of an OverlayNodeStore chain.
type MemNodeStore struct {
	mu    sync.RWMutex
	nodes map[Hash]*TrieNode
}

// NewMemNodeStore returns an empty in-memory node store.
func NewMemNodeStore() *MemNodeStore {
	return &MemNodeStore{nodes: make(map[Hash]*TrieNode)}
}

func (s *MemNodeStore) GetNode(h Hash) (*TrieNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[h]
	if !ok {
		return nil, NewError(ErrKeyNotFound, "trie: node not found")
	}
	return n, nil
}

func (s *MemNodeStore) PutNode(h Hash, n *TrieNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[h] = n
	return nil
}

// OverlayNodeStore reads through to Base on a miss and buffers all writes
// in an in-memory overlay, so that a fork-in-progress never mutates
// shared, already-committed state (spec.md §5.2: "the node store used by
// a candidate fork overlays the canonical store and is discarded on
// reorg"). Commit flushes the overlay into Base; Discard simply drops it.
type OverlayNodeStore struct {
	Base NodeStore

	mu      sync.RWMutex
	overlay map[Hash]*TrieNode
}

// NewOverlayNodeStore wraps base with a fresh, empty write overlay.
func NewOverlayNodeStore(base NodeStore) *OverlayNodeStore {
	return &OverlayNodeStore{Base: base, overlay: make(map[Hash]*TrieNode)}
}

func (o *OverlayNodeStore) GetNode(h Hash) (*TrieNode, error) {
	o.mu.RLock()
	n, ok := o.overlay[h]
	o.mu.RUnlock()
	if ok {
		return n, nil
	}
	return o.Base.GetNode(h)
}

func (o *OverlayNodeStore) PutNode(h Hash, n *TrieNode) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.overlay[h] = n
	return nil
}

// Commit flushes every overlaid node into Base, in no particular order;
// node identity is content-addressed so write order never matters.
func (o *OverlayNodeStore) Commit() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for h, n := range o.overlay {
		if err := o.Base.PutNode(h, n); err != nil {
			return err
		}
	}
	o.overlay = make(map[Hash]*TrieNode)
	return nil
}

// Discard drops the overlay without touching Base, used when a
// speculative fork loses the race to finalize.
func (o *OverlayNodeStore) Discard() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.overlay = make(map[Hash]*TrieNode)
}
