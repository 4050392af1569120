// SPDX-License-Identifier: Apache-2.0
package core

import (
	"encoding/hex"
	"fmt"
	"math/big"
)

// Fixed-size primitive dimensions, spec.md §2.2.
const (
	HashSize             = 32
	AddressSize          = 20
	Ed25519PublicKeySize = 32
	Ed25519SignatureSize = 64
	BlsPublicKeySize     = 48
	BlsSignatureSize     = 96
	PeerIdSize           = 32
)

// SystemContractRangeStart and SystemContractRangeEnd bound the reserved
// address range for protocol-level contracts (spec.md §2.2).
var (
	SystemContractRangeStart = Address{}
	SystemContractRangeEnd   = Address{}
)

func init() {
	SystemContractRangeStart[AddressSize-2] = 0x00
	SystemContractRangeStart[AddressSize-1] = 0x01
	SystemContractRangeEnd[AddressSize-2] = 0x1f
	SystemContractRangeEnd[AddressSize-1] = 0xff
}

// Hash is a 32-byte content digest, produced by BLAKE3 unless stated
// otherwise (spec.md §3.1).
type Hash [HashSize]byte

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// IsZero reports whether h is the all-zero hash, used as a sentinel for
// "no parent" / "empty trie" roots.
func (h Hash) IsZero() bool { return h == Hash{} }

// HashFromHex parses a 64-character hex string into a Hash.
func HashFromHex(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("core: invalid hash hex: %w", err)
	}
	if len(b) != HashSize {
		return h, fmt.Errorf("core: invalid hash length %d", len(b))
	}
	copy(h[:], b)
	return h, nil
}

// HashFromBytes copies a 32-byte slice into a Hash, rejecting any other
// length.
func HashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != HashSize {
		return h, fmt.Errorf("core: invalid hash length %d", len(b))
	}
	copy(h[:], b)
	return h, nil
}

// Address is a 20-byte account identifier derived from Keccak-256(pubkey),
// following the teacher's account-derivation convention (spec.md §2.2,
// §3.2). Addresses in [SystemContractRangeStart, SystemContractRangeEnd]
// are reserved for protocol contracts and are never assigned to user keys.
type Address [AddressSize]byte

func (a Address) String() string { return "0x" + hex.EncodeToString(a[:]) }

// IsSystemContract reports whether a falls in the reserved system range.
func (a Address) IsSystemContract() bool {
	return bytesCompare(a[:], SystemContractRangeStart[:]) >= 0 &&
		bytesCompare(a[:], SystemContractRangeEnd[:]) <= 0
}

func bytesCompare(a, b []byte) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// AddressFromHex parses a 0x-prefixed or bare 40-character hex address.
func AddressFromHex(s string) (Address, error) {
	var a Address
	if len(s) >= 2 && s[0:2] == "0x" {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return a, fmt.Errorf("core: invalid address hex: %w", err)
	}
	if len(b) != AddressSize {
		return a, fmt.Errorf("core: invalid address length %d", len(b))
	}
	copy(a[:], b)
	return a, nil
}

// Ed25519PublicKey is a raw 32-byte Ed25519 verifying key.
type Ed25519PublicKey [Ed25519PublicKeySize]byte

func (k Ed25519PublicKey) String() string { return hex.EncodeToString(k[:]) }

// Ed25519Signature is a raw 64-byte Ed25519 signature.
type Ed25519Signature [Ed25519SignatureSize]byte

func (s Ed25519Signature) String() string { return hex.EncodeToString(s[:]) }

// BlsPublicKey is a compressed 48-byte BLS12-381 G1 public key.
type BlsPublicKey [BlsPublicKeySize]byte

func (k BlsPublicKey) String() string { return hex.EncodeToString(k[:]) }

// BlsSignature is a compressed 96-byte BLS12-381 G2 signature.
type BlsSignature [BlsSignatureSize]byte

func (s BlsSignature) String() string { return hex.EncodeToString(s[:]) }

// PeerId identifies a node on the gossip network. It is BLAKE3(pubkey),
// distinct from Address (Keccak-256(pubkey)) per spec.md §2.2: peer
// identity and account identity use different hash functions so that a
// validator's network identity cannot be mistaken for its on-chain address.
type PeerId [PeerIdSize]byte

func (p PeerId) String() string { return hex.EncodeToString(p[:]) }

// PeerIdFromPublicKey derives a PeerId from an Ed25519 public key.
func PeerIdFromPublicKey(pub Ed25519PublicKey) PeerId {
	return PeerId(Blake3Hash(pub[:]))
}

// U256 is an unsigned 256-bit integer stored as four 64-bit limbs, little
// word first (limbs[0] is least significant), used for token balances and
// trie path arithmetic (spec.md §2.2).
type U256 struct {
	limbs [4]uint64
}

// U256FromUint64 constructs a U256 from a small non-negative value.
func U256FromUint64(v uint64) U256 {
	return U256{limbs: [4]uint64{v, 0, 0, 0}}
}

// U256FromBigEndian parses a 32-byte big-endian buffer into a U256.
func U256FromBigEndian(b []byte) U256 {
	var u U256
	var tmp [32]byte
	copy(tmp[32-len(b):], b)
	for i := 0; i < 4; i++ {
		start := 24 - i*8
		u.limbs[i] = beToU64(tmp[start : start+8])
	}
	return u
}

func beToU64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

// PutBigEndian writes u into dst (must be at least 32 bytes) in big-endian
// order.
func (u U256) PutBigEndian(dst []byte) {
	for i := 0; i < 4; i++ {
		start := 24 - i*8
		putU64BE(dst[start:start+8], u.limbs[i])
	}
}

func putU64BE(dst []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		dst[i] = byte(v)
		v >>= 8
	}
}

// Bytes32 returns the big-endian 32-byte representation.
func (u U256) Bytes32() [32]byte {
	var out [32]byte
	u.PutBigEndian(out[:])
	return out
}

// IsZero reports whether u == 0.
func (u U256) IsZero() bool {
	return u.limbs == [4]uint64{}
}

// Cmp returns -1, 0, or 1 as u is less than, equal to, or greater than o.
func (u U256) Cmp(o U256) int {
	for i := 3; i >= 0; i-- {
		if u.limbs[i] != o.limbs[i] {
			if u.limbs[i] < o.limbs[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Add returns u+o and whether the addition overflowed 256 bits.
func (u U256) Add(o U256) (U256, bool) {
	var out U256
	var carry uint64
	for i := 0; i < 4; i++ {
		sum := u.limbs[i] + o.limbs[i] + carry
		if sum < u.limbs[i] || (carry == 1 && sum == u.limbs[i]) {
			carry = 1
		} else {
			carry = 0
		}
		out.limbs[i] = sum
	}
	return out, carry != 0
}

// Sub returns u-o and whether the subtraction underflowed.
func (u U256) Sub(o U256) (U256, bool) {
	var out U256
	var borrow uint64
	for i := 0; i < 4; i++ {
		d := u.limbs[i] - o.limbs[i] - borrow
		if u.limbs[i] < o.limbs[i] || (borrow == 1 && u.limbs[i] == o.limbs[i]) {
			borrow = 1
		} else {
			borrow = 0
		}
		out.limbs[i] = d
	}
	return out, borrow != 0
}

// CheckedAdd returns u+o, or false if the result would overflow.
func (u U256) CheckedAdd(o U256) (U256, bool) {
	sum, overflow := u.Add(o)
	if overflow {
		return U256{}, false
	}
	return sum, true
}

// CheckedSub returns u-o, or false if the result would underflow.
func (u U256) CheckedSub(o U256) (U256, bool) {
	diff, underflow := u.Sub(o)
	if underflow {
		return U256{}, false
	}
	return diff, true
}

// Lsh returns u shifted left by n bits (0..255). Bits shifted past 255 are
// discarded.
func (u U256) Lsh(n uint) U256 {
	if n >= 256 {
		return U256{}
	}
	words, bits := n/64, n%64
	var out U256
	for i := 3; i >= 0; i-- {
		srcIdx := i - int(words)
		if srcIdx < 0 {
			continue
		}
		v := u.limbs[srcIdx] << bits
		if bits > 0 && srcIdx > 0 {
			v |= u.limbs[srcIdx-1] >> (64 - bits)
		}
		out.limbs[i] = v
	}
	return out
}

// Rsh returns u shifted right (logical) by n bits (0..255).
func (u U256) Rsh(n uint) U256 {
	if n >= 256 {
		return U256{}
	}
	words, bits := n/64, n%64
	var out U256
	for i := 0; i < 4; i++ {
		srcIdx := i + int(words)
		if srcIdx > 3 {
			continue
		}
		v := u.limbs[srcIdx] >> bits
		if bits > 0 && srcIdx < 3 {
			v |= u.limbs[srcIdx+1] << (64 - bits)
		}
		out.limbs[i] = v
	}
	return out
}

// And, Or, Xor return the bitwise combination of u and o.
func (u U256) And(o U256) U256 { return u.bitOp(o, func(a, b uint64) uint64 { return a & b }) }
func (u U256) Or(o U256) U256  { return u.bitOp(o, func(a, b uint64) uint64 { return a | b }) }
func (u U256) Xor(o U256) U256 { return u.bitOp(o, func(a, b uint64) uint64 { return a ^ b }) }

func (u U256) bitOp(o U256, f func(a, b uint64) uint64) U256 {
	var out U256
	for i := range u.limbs {
		out.limbs[i] = f(u.limbs[i], o.limbs[i])
	}
	return out
}

// Hex returns a 0x-prefixed lowercase hex encoding with no leading zeros
// (except the value zero itself, encoded as "0x0").
func (u U256) Hex() string {
	return "0x" + u.toBigInt().Text(16)
}

// Decimal returns the base-10 string representation.
func (u U256) Decimal() string {
	return u.toBigInt().String()
}

func (u U256) toBigInt() *big.Int {
	b := u.Bytes32()
	return new(big.Int).SetBytes(b[:])
}

// U256FromDecimal parses a base-10 string into a U256, erroring on
// negative values or magnitudes exceeding 256 bits.
func U256FromDecimal(s string) (U256, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return U256{}, fmt.Errorf("core: invalid decimal u256 %q", s)
	}
	if n.Sign() < 0 {
		return U256{}, fmt.Errorf("core: negative u256 %q", s)
	}
	b := n.Bytes()
	if len(b) > 32 {
		return U256{}, fmt.Errorf("core: u256 overflow %q", s)
	}
	return U256FromBigEndian(b), nil
}
