// SPDX-License-Identifier: Apache-2.0
package core

import "sync/atomic"

// StateRef holds an atomically replaceable pointer to the current
// canonical state database, so a sync operation can swap in a freshly
// constructed state without invalidating handles already held by
// readers (spec.md §4.3). Snapshot returns a forked copy: a multi-read
// consumer (an RPC query, a sync peer being served a range) pins a
// FlatCache.Fork() of the state at the moment it started reading, so a
// concurrent Store cannot make its reads observe a torn, half-swapped
// state.
type StateRef struct {
	db atomic.Pointer[FlatCache]
}

// NewStateRef returns a StateRef wrapping the given canonical FlatCache.
func NewStateRef(db *FlatCache) *StateRef {
	ref := &StateRef{}
	ref.db.Store(db)
	return ref
}

// Load returns the current canonical FlatCache. A single read can use it
// directly; callers that make several reads use Snapshot so a concurrent
// Store cannot change the state between them.
func (r *StateRef) Load() *FlatCache {
	return r.db.Load()
}

// Store atomically swaps in db as the new canonical state, called once
// a block's state transition has been fully validated and finalized, or
// once sync has rebuilt state from a trusted snapshot.
func (r *StateRef) Store(db *FlatCache) {
	r.db.Store(db)
}

// Snapshot returns a forked copy of the canonical state as observed at
// call time, isolated from subsequent writes to the live FlatCache and
// from a concurrent Store replacing it entirely.
func (r *StateRef) Snapshot() (*FlatCache, error) {
	return r.Load().Fork()
}
