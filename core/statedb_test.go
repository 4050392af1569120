// SPDX-License-Identifier: Apache-2.0
package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testAddress(b byte) Address {
	var a Address
	a[19] = b
	return a
}

func TestFlatCacheForkedWithNoWritesHasStableRoot(t *testing.T) {
	base := NewMemNodeStore()
	db := NewStateDB(base)
	flat := NewFlatCache(db)

	root, err := flat.ComputeStateRoot()
	require.NoError(t, err)

	fork, err := flat.Fork()
	require.NoError(t, err)
	forkRoot, err := fork.ComputeStateRoot()
	require.NoError(t, err)

	require.Equal(t, root, forkRoot, "forking an unwritten cache must not change the state root")
}

func TestFlatCacheForkIsolatesWrites(t *testing.T) {
	base := NewMemNodeStore()
	db := NewStateDB(base)
	flat := NewFlatCache(db)

	addr := testAddress(1)
	flat.SetAccount(addr, Account{Nonce: 1, Balance: U256FromUint64(1000)})
	parentRoot, err := flat.ComputeStateRoot()
	require.NoError(t, err)

	fork, err := flat.Fork()
	require.NoError(t, err)

	fork.SetAccount(addr, Account{Nonce: 2, Balance: U256FromUint64(2000)})
	forkRoot, err := fork.ComputeStateRoot()
	require.NoError(t, err)

	require.NotEqual(t, parentRoot, forkRoot)

	// The parent's own view must be untouched by the fork's write.
	parentAcc, err := flat.GetAccount(addr)
	require.NoError(t, err)
	require.EqualValues(t, 1, parentAcc.Nonce)

	forkAcc, err := fork.GetAccount(addr)
	require.NoError(t, err)
	require.EqualValues(t, 2, forkAcc.Nonce)
}

func TestFlatCacheForkDeepCopiesStorageBytes(t *testing.T) {
	base := NewMemNodeStore()
	db := NewStateDB(base)
	flat := NewFlatCache(db)

	addr := testAddress(2)
	var slot Hash
	slot[0] = 7
	original := []byte{1, 2, 3}
	flat.SetStorage(addr, slot, original)

	fork, err := flat.Fork()
	require.NoError(t, err)

	forkValue, err := fork.GetStorage(addr, slot)
	require.NoError(t, err)
	forkValue[0] = 0xff

	parentValue, err := flat.GetStorage(addr, slot)
	require.NoError(t, err)
	require.EqualValues(t, 1, parentValue[0], "mutating a forked storage slice must not leak into the parent")
}

func TestFlatCacheAccountProofRoundTrips(t *testing.T) {
	base := NewMemNodeStore()
	db := NewStateDB(base)
	flat := NewFlatCache(db)

	addr := testAddress(3)
	acc := Account{Nonce: 9, Balance: U256FromUint64(42)}
	flat.SetAccount(addr, acc)

	root, err := flat.ComputeStateRoot()
	require.NoError(t, err)

	proof, err := flat.GenerateAccountProof(addr)
	require.NoError(t, err)
	require.True(t, VerifyProof(root, proof))
	decoded, err := DecodeAccount(proof.Value)
	require.NoError(t, err)
	require.EqualValues(t, 9, decoded.Nonce)
}

func TestFlatCacheDeleteAccountTombstoneSuppressesFallthrough(t *testing.T) {
	base := NewMemNodeStore()
	db := NewStateDB(base)
	flat := NewFlatCache(db)

	addr := testAddress(4)
	flat.SetAccount(addr, Account{Nonce: 1})
	_, err := flat.Commit()
	require.NoError(t, err)

	flat.DeleteAccount(addr)
	exists, err := flat.AccountExists(addr)
	require.NoError(t, err)
	require.False(t, exists)

	_, err = flat.Commit()
	require.NoError(t, err)
	exists, err = flat.AccountExists(addr)
	require.NoError(t, err)
	require.False(t, exists)
}

func TestStateDBStorageRootFlowsIntoAccountOnComputeStateRoot(t *testing.T) {
	base := NewMemNodeStore()
	db := NewStateDB(base)

	addr := testAddress(5)
	require.NoError(t, db.SetAccount(addr, Account{Nonce: 1}))

	var slot Hash
	slot[0] = 1
	require.NoError(t, db.SetStorage(addr, slot, []byte("value")))

	root, err := db.ComputeStateRoot()
	require.NoError(t, err)
	require.False(t, root.IsZero())

	acc, err := db.GetAccount(addr)
	require.NoError(t, err)
	require.False(t, acc.StorageRoot.IsZero(), "storage writes must flush into the account's StorageRoot")

	value, err := db.GetStorage(addr, slot)
	require.NoError(t, err)
	require.Equal(t, "value", string(value))
}
