// SPDX-License-Identifier: Apache-2.0
package core

import (
	"golang.org/x/crypto/sha3"
	"lukechampine.com/blake3"
)

//---------------------------------------------------------------------
// BLAKE3 – content addressing (trie nodes, peer ids, message digests)
//---------------------------------------------------------------------

// Blake3Hash returns the 32-byte BLAKE3 digest of data.
func Blake3Hash(data ...[]byte) Hash {
	h := blake3.New(HashSize, nil)
	for _, d := range data {
		h.Write(d)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// Blake3Keyed returns the BLAKE3 digest of data keyed with key, used for
// domain-separated signatures in the handshake protocol (spec.md §4.5).
// key is hashed down to 32 bytes first so callers can pass arbitrary
// domain-separation strings.
func Blake3Keyed(key []byte, data ...[]byte) Hash {
	var keyArr [32]byte
	copy(keyArr[:], Blake3Hash(key)[:])
	h := blake3.New(HashSize, keyArr[:])
	for _, d := range data {
		h.Write(d)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

//---------------------------------------------------------------------
// Keccak-256 – account address derivation (spec.md §3.2)
//---------------------------------------------------------------------

// Keccak256 returns the 32-byte Keccak-256 digest of data. This is the
// original Keccak padding, not NIST SHA3-256.
func Keccak256(data ...[]byte) Hash {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// AddressFromEd25519PublicKey derives an Address as the low 20 bytes of
// Keccak256(pubkey), following the teacher's wallet-address convention
// adapted to this spec's Ed25519-keyed accounts (spec.md §3.2).
func AddressFromEd25519PublicKey(pub Ed25519PublicKey) Address {
	digest := Keccak256(pub[:])
	var a Address
	copy(a[:], digest[HashSize-AddressSize:])
	return a
}
