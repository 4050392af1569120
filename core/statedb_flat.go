// SPDX-License-Identifier: Apache-2.0
package core

import "sync"

// storageKey identifies one (address, slot) pair in the flat storage
// cache.
type storageKey struct {
	addr Address
	slot Hash
}

// FlatCache sits in front of a StateDB, serving repeated reads and
// writes of hot accounts and storage slots (the same small set of
// validators and fee payers touched every block) without walking the
// trie on every access (spec.md §4.3). It holds two in-memory maps
// (address -> account, (address, slot) -> value) plus two deletion
// tombstone sets; reads hit the cache, fall through to the trie layer on
// a miss, and memoize the result. Tombstones are never cleared on flush:
// the underlying trie layer still carries the old nodes, so clearing a
// tombstone would let a stale fallthrough read reappear.
type FlatCache struct {
	mu sync.RWMutex

	db *StateDB

	accounts        map[Address]Account
	storage         map[storageKey][]byte
	deletedAccounts map[Address]struct{}
	deletedStorage  map[storageKey]struct{}
}

// NewFlatCache wraps db with an empty overlay.
func NewFlatCache(db *StateDB) *FlatCache {
	return &FlatCache{
		db:              db,
		accounts:        make(map[Address]Account),
		storage:         make(map[storageKey][]byte),
		deletedAccounts: make(map[Address]struct{}),
		deletedStorage:  make(map[storageKey]struct{}),
	}
}

// GetAccount returns the account for addr, consulting the flat cache
// before falling through to the trie layer.
func (f *FlatCache) GetAccount(addr Address) (Account, error) {
	f.mu.RLock()
	if acc, ok := f.accounts[addr]; ok {
		f.mu.RUnlock()
		return acc, nil
	}
	if _, tombstoned := f.deletedAccounts[addr]; tombstoned {
		f.mu.RUnlock()
		return EmptyAccount(), nil
	}
	f.mu.RUnlock()

	acc, err := f.db.GetAccount(addr)
	if err != nil {
		return Account{}, err
	}
	f.mu.Lock()
	f.accounts[addr] = acc
	f.mu.Unlock()
	return acc, nil
}

// AccountExists reports whether addr is present, consulting the cache
// and its tombstones before the trie layer.
func (f *FlatCache) AccountExists(addr Address) (bool, error) {
	f.mu.RLock()
	if _, ok := f.accounts[addr]; ok {
		f.mu.RUnlock()
		return true, nil
	}
	if _, tombstoned := f.deletedAccounts[addr]; tombstoned {
		f.mu.RUnlock()
		return false, nil
	}
	f.mu.RUnlock()
	return f.db.AccountExists(addr)
}

// SetAccount stages acc for addr in the flat cache; Commit persists it.
func (f *FlatCache) SetAccount(addr Address, acc Account) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[addr] = acc
	delete(f.deletedAccounts, addr)
}

// DeleteAccount stages a tombstone for addr, so subsequent reads within
// this cache's lifetime observe absence without consulting the trie.
func (f *FlatCache) DeleteAccount(addr Address) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.accounts, addr)
	f.deletedAccounts[addr] = struct{}{}
}

// GetStorage returns the storage value for (addr, slot), consulting the
// flat cache before falling through to the trie layer.
func (f *FlatCache) GetStorage(addr Address, slot Hash) ([]byte, error) {
	key := storageKey{addr: addr, slot: slot}
	f.mu.RLock()
	if v, ok := f.storage[key]; ok {
		f.mu.RUnlock()
		return v, nil
	}
	if _, tombstoned := f.deletedStorage[key]; tombstoned {
		f.mu.RUnlock()
		return nil, nil
	}
	f.mu.RUnlock()

	v, err := f.db.GetStorage(addr, slot)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.storage[key] = v
	f.mu.Unlock()
	return v, nil
}

// SetStorage stages a storage write for (addr, slot).
func (f *FlatCache) SetStorage(addr Address, slot Hash, value []byte) {
	key := storageKey{addr: addr, slot: slot}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.storage[key] = value
	delete(f.deletedStorage, key)
}

// DeleteStorage stages a storage tombstone for (addr, slot).
func (f *FlatCache) DeleteStorage(addr Address, slot Hash) {
	key := storageKey{addr: addr, slot: slot}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.storage, key)
	f.deletedStorage[key] = struct{}{}
}

// ComputeStateRoot applies every staged account and storage write (and
// tombstone) to the underlying StateDB, then returns its computed world
// root. Staged entries are not cleared: ComputeStateRoot may be called
// repeatedly (e.g. to generate a proof mid-block) without losing the
// cache's working set; only Commit clears it.
func (f *FlatCache) ComputeStateRoot() (Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flushLocked()
}

func (f *FlatCache) flushLocked() (Hash, error) {
	for key, value := range f.storage {
		if err := f.db.SetStorage(key.addr, key.slot, value); err != nil {
			return Hash{}, err
		}
	}
	for key := range f.deletedStorage {
		if err := f.db.DeleteStorage(key.addr, key.slot); err != nil {
			return Hash{}, err
		}
	}
	for addr, acc := range f.accounts {
		if err := f.db.SetAccount(addr, acc); err != nil {
			return Hash{}, err
		}
	}
	for addr := range f.deletedAccounts {
		if err := f.db.DeleteAccount(addr); err != nil {
			return Hash{}, err
		}
	}
	return f.db.ComputeStateRoot()
}

// Commit flushes every staged entry into the underlying StateDB, commits
// its overlay node store into the canonical base, and returns the new
// canonical root. The cache's own maps are cleared (but tombstone sets
// are not, per spec.md §4.3) so a fresh block can reuse the same
// FlatCache instance.
func (f *FlatCache) Commit() (Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	root, err := f.flushLocked()
	if err != nil {
		return Hash{}, err
	}
	if err := f.db.Commit(); err != nil {
		return Hash{}, err
	}
	f.accounts = make(map[Address]Account)
	f.storage = make(map[storageKey][]byte)
	return root, nil
}

// Discard drops every staged entry and the underlying overlay node
// store, leaving the canonical trie untouched.
func (f *FlatCache) Discard() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.db.Discard()
	f.accounts = make(map[Address]Account)
	f.storage = make(map[storageKey][]byte)
	f.deletedAccounts = make(map[Address]struct{})
	f.deletedStorage = make(map[storageKey]struct{})
}

// Fork returns a FlatCache isolated from f: every staged storage
// byte-array is deep-copied so a write to the fork's cache can never
// mutate a slice still referenced by f, the deletion sets and account
// map are shallow-copied (Account is a plain value type), and the
// underlying StateDB is forked so the two caches never share a write
// overlay (spec.md §4.3, invariant 5).
func (f *FlatCache) Fork() (*FlatCache, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	forkedDB, err := f.db.Fork()
	if err != nil {
		return nil, err
	}

	accounts := make(map[Address]Account, len(f.accounts))
	for addr, acc := range f.accounts {
		accounts[addr] = acc
	}
	storage := make(map[storageKey][]byte, len(f.storage))
	for key, value := range f.storage {
		cp := make([]byte, len(value))
		copy(cp, value)
		storage[key] = cp
	}
	deletedAccounts := make(map[Address]struct{}, len(f.deletedAccounts))
	for addr := range f.deletedAccounts {
		deletedAccounts[addr] = struct{}{}
	}
	deletedStorage := make(map[storageKey]struct{}, len(f.deletedStorage))
	for key := range f.deletedStorage {
		deletedStorage[key] = struct{}{}
	}

	return &FlatCache{
		db:              forkedDB,
		accounts:        accounts,
		storage:         storage,
		deletedAccounts: deletedAccounts,
		deletedStorage:  deletedStorage,
	}, nil
}

// GenerateAccountProof flushes pending writes and produces an
// inclusion/exclusion proof for addr.
func (f *FlatCache) GenerateAccountProof(addr Address) (*Proof, error) {
	f.mu.Lock()
	_, err := f.flushLocked()
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.db.GenerateAccountProof(addr)
}

// GenerateStorageProof flushes pending writes and produces an
// inclusion/exclusion proof for a contract storage slot.
func (f *FlatCache) GenerateStorageProof(addr Address, slot Hash) (*Proof, error) {
	f.mu.Lock()
	_, err := f.flushLocked()
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.db.GenerateStorageProof(addr, slot)
}
