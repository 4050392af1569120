// SPDX-License-Identifier: Apache-2.0
package core

import (
	"encoding/binary"
	"fmt"
)

// AccountType distinguishes the four kinds of address the world trie can
// hold (spec.md §2.2): plain externally-owned accounts, deployed
// contracts, reserved system contracts living in the low address range,
// and registered validators.
type AccountType uint8

const (
	AccountTypeEOA AccountType = iota
	AccountTypeContract
	AccountTypeSystem
	AccountTypeValidator
)

// AccountEncodedSize is the fixed size of an Account's binary encoding:
// nonce(8) + balance(32) + storage_root(32) + code_hash(32) +
// account_type(1) + compliance_hash(32) = 137 bytes (spec.md §2.2).
const AccountEncodedSize = 8 + 32 + 32 + 32 + 1 + 32

// Account is the trie leaf value for every address in the state database.
type Account struct {
	Nonce          uint64
	Balance        U256
	StorageRoot    Hash
	CodeHash       Hash
	AccountType    AccountType
	ComplianceHash Hash
}

// EmptyAccount returns the zero-value account assigned on first touch.
func EmptyAccount() Account {
	return Account{}
}

// Encode serializes the account to its fixed 137-byte big-endian form.
func (a Account) Encode() []byte {
	out := make([]byte, 0, AccountEncodedSize)
	w := NewWriter(AccountEncodedSize)
	var nonce [8]byte
	binary.BigEndian.PutUint64(nonce[:], a.Nonce)
	w.WriteFixed(nonce[:])
	bal := a.Balance.Bytes32()
	w.WriteFixed(bal[:])
	w.WriteHash(a.StorageRoot)
	w.WriteHash(a.CodeHash)
	w.WriteU8(uint8(a.AccountType))
	w.WriteHash(a.ComplianceHash)
	out = append(out, w.Bytes()...)
	return out
}

// DecodeAccount parses the fixed 137-byte account encoding.
func DecodeAccount(b []byte) (Account, error) {
	if len(b) != AccountEncodedSize {
		return Account{}, fmt.Errorf("core: invalid account encoding length %d", len(b))
	}
	r := NewReader(b)
	var a Account
	var err error
	nonceBytes, err := r.ReadFixed(8)
	if err != nil {
		return Account{}, err
	}
	a.Nonce = binary.BigEndian.Uint64(nonceBytes)
	balBytes, err := r.ReadFixed(32)
	if err != nil {
		return Account{}, err
	}
	a.Balance = U256FromBigEndian(balBytes)
	if a.StorageRoot, err = r.ReadHash(); err != nil {
		return Account{}, err
	}
	if a.CodeHash, err = r.ReadHash(); err != nil {
		return Account{}, err
	}
	typ, err := r.ReadU8()
	if err != nil {
		return Account{}, err
	}
	a.AccountType = AccountType(typ)
	if a.ComplianceHash, err = r.ReadHash(); err != nil {
		return Account{}, err
	}
	return a, nil
}
