// SPDX-License-Identifier: Apache-2.0
package core

import (
	"fmt"
	"sync"
)

// StateDB is the trie layer of the state database (spec.md §4.3): a
// world trie keyed by Address -> encoded Account, plus one storage
// sub-trie per contract address keyed by 32-byte storage slot. Unlike
// Trie, which is stateless and threads roots explicitly, StateDB is
// stateful: it tracks the live world root and any storage sub-trie roots
// modified since the last ComputeStateRoot, so callers can get/set
// accounts and storage without re-deriving roots on every call.
type StateDB struct {
	mu    sync.Mutex
	trie  *Trie
	store *OverlayNodeStore

	worldRoot Hash
	// dirtyStorage holds storage sub-trie roots that changed since the
	// owning account was last written to the world trie. Flushed into
	// the account's StorageRoot field by ComputeStateRoot.
	dirtyStorage map[Address]Hash
}

// NewStateDB constructs an empty StateDB writing through an overlay atop
// base. The world root starts at EmptyTrieRoot.
func NewStateDB(base NodeStore) *StateDB {
	overlay := NewOverlayNodeStore(base)
	return newStateDBAt(overlay, EmptyTrieRoot)
}

func newStateDBAt(store *OverlayNodeStore, root Hash) *StateDB {
	return &StateDB{
		trie:         NewTrie(store),
		store:        store,
		worldRoot:    root,
		dirtyStorage: make(map[Address]Hash),
	}
}

// Root returns the current world root. Account writes are reflected
// immediately; storage writes are reflected only once ComputeStateRoot
// has flushed them into their accounts.
func (s *StateDB) Root() Hash {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.worldRoot
}

// GetAccount reads the account at addr. A miss returns the zero-value
// account (new accounts are implicitly empty until first write).
func (s *StateDB) GetAccount(addr Address) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getAccountLocked(addr)
}

func (s *StateDB) getAccountLocked(addr Address) (Account, error) {
	raw, err := s.trie.Get(s.worldRoot, addr[:])
	if err != nil {
		return Account{}, err
	}
	if raw == nil {
		return EmptyAccount(), nil
	}
	acc, err := DecodeAccount(raw)
	if err != nil {
		return Account{}, fmt.Errorf("core: statedb decode account %s: %w", addr, err)
	}
	return acc, nil
}

// AccountExists reports whether addr has ever been written to the world
// trie.
func (s *StateDB) AccountExists(addr Address) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := s.trie.Get(s.worldRoot, addr[:])
	if err != nil {
		return false, err
	}
	return raw != nil, nil
}

// SetAccount writes acc at addr into the world trie immediately,
// updating the live root.
func (s *StateDB) SetAccount(addr Address, acc Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	root, err := s.trie.Put(s.worldRoot, addr[:], acc.Encode())
	if err != nil {
		return err
	}
	s.worldRoot = root
	return nil
}

// DeleteAccount removes addr from the world trie, discarding any
// not-yet-flushed storage sub-trie root tracked for it.
func (s *StateDB) DeleteAccount(addr Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	root, err := s.trie.Delete(s.worldRoot, addr[:])
	if err != nil {
		return err
	}
	s.worldRoot = root
	delete(s.dirtyStorage, addr)
	return nil
}

func (s *StateDB) storageRootLocked(addr Address) (Hash, error) {
	if root, ok := s.dirtyStorage[addr]; ok {
		return root, nil
	}
	acc, err := s.getAccountLocked(addr)
	if err != nil {
		return Hash{}, err
	}
	return acc.StorageRoot, nil
}

// GetStorage reads contract storage slot key belonging to addr.
func (s *StateDB) GetStorage(addr Address, key Hash) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	root, err := s.storageRootLocked(addr)
	if err != nil {
		return nil, err
	}
	return s.trie.Get(root, key[:])
}

// SetStorage writes a contract storage slot for addr. The owning
// account's StorageRoot field is not updated until ComputeStateRoot
// flushes it, matching spec.md §4.3's layered commit order.
func (s *StateDB) SetStorage(addr Address, key Hash, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	root, err := s.storageRootLocked(addr)
	if err != nil {
		return err
	}
	newRoot, err := s.trie.Put(root, key[:], value)
	if err != nil {
		return err
	}
	s.dirtyStorage[addr] = newRoot
	return nil
}

// DeleteStorage removes a contract storage slot for addr.
func (s *StateDB) DeleteStorage(addr Address, key Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	root, err := s.storageRootLocked(addr)
	if err != nil {
		return err
	}
	newRoot, err := s.trie.Delete(root, key[:])
	if err != nil {
		return err
	}
	s.dirtyStorage[addr] = newRoot
	return nil
}

// ComputeStateRoot flushes every modified storage sub-trie root into its
// owning account, writes the updated accounts into the world trie, and
// returns the resulting world root (spec.md §4.3). The result is a pure
// function of the writes made since construction or the last
// ComputeStateRoot call: no timestamps or iteration order leak into it,
// since trie roots are content-addressed.
func (s *StateDB) ComputeStateRoot() (Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.computeStateRootLocked()
}

func (s *StateDB) computeStateRootLocked() (Hash, error) {
	for addr, storageRoot := range s.dirtyStorage {
		acc, err := s.getAccountLocked(addr)
		if err != nil {
			return Hash{}, err
		}
		acc.StorageRoot = storageRoot
		root, err := s.trie.Put(s.worldRoot, addr[:], acc.Encode())
		if err != nil {
			return Hash{}, err
		}
		s.worldRoot = root
		delete(s.dirtyStorage, addr)
	}
	return s.worldRoot, nil
}

// Fork returns a new StateDB isolated from s: it first calls
// ComputeStateRoot to flush pending sub-trie roots into the world trie,
// then returns a StateDB backed by a fresh OverlayNodeStore layered atop
// s's own store (spec.md §4.3). Writes to the fork never touch s's
// store, and s remains fully usable after forking.
func (s *StateDB) Fork() (*StateDB, error) {
	s.mu.Lock()
	root, err := s.computeStateRootLocked()
	store := s.store
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	overlay := NewOverlayNodeStore(store)
	return newStateDBAt(overlay, root), nil
}

// Commit flushes all pending overlay writes into the base node store.
// Called once a block has been fully validated and is ready to become
// canonical.
func (s *StateDB) Commit() error {
	return s.store.Commit()
}

// Discard drops all pending overlay writes, used when a speculative
// state transition (an alternate fork, a rejected block) must leave no
// trace in the base store.
func (s *StateDB) Discard() {
	s.store.Discard()
}

// GenerateAccountProof produces an inclusion/exclusion proof for addr
// against the current (flushed) world root.
func (s *StateDB) GenerateAccountProof(addr Address) (*Proof, error) {
	root, err := s.ComputeStateRoot()
	if err != nil {
		return nil, err
	}
	return s.trie.GenerateProof(root, addr[:])
}

// GenerateStorageProof produces an inclusion/exclusion proof for a
// contract storage slot against its account's current storage root.
func (s *StateDB) GenerateStorageProof(addr Address, key Hash) (*Proof, error) {
	s.mu.Lock()
	root, err := s.storageRootLocked(addr)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.trie.GenerateProof(root, key[:])
}
