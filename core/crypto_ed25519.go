// SPDX-License-Identifier: Apache-2.0
package core

import (
	"crypto/ed25519"
	"fmt"
)

//---------------------------------------------------------------------
// Ed25519 – peer identity and per-message signing (spec.md §3.3)
//---------------------------------------------------------------------

// Ed25519KeyPair holds a signing key alongside its derived public key.
type Ed25519KeyPair struct {
	Public  Ed25519PublicKey
	Private ed25519.PrivateKey
}

// GenerateEd25519KeyPair generates a fresh Ed25519 key pair using the
// system CSPRNG.
func GenerateEd25519KeyPair() (*Ed25519KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("core: generate ed25519 key: %w", err)
	}
	var pk Ed25519PublicKey
	copy(pk[:], pub)
	return &Ed25519KeyPair{Public: pk, Private: priv}, nil
}

// Ed25519KeyPairFromSeed deterministically derives a key pair from a
// 32-byte seed, used by the keystore on unlock.
func Ed25519KeyPairFromSeed(seed []byte) (*Ed25519KeyPair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("core: ed25519 seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	var pk Ed25519PublicKey
	copy(pk[:], priv.Public().(ed25519.PublicKey))
	return &Ed25519KeyPair{Public: pk, Private: priv}, nil
}

// Sign signs msg, returning a 64-byte Ed25519 signature.
func (kp *Ed25519KeyPair) Sign(msg []byte) Ed25519Signature {
	sig := ed25519.Sign(kp.Private, msg)
	var out Ed25519Signature
	copy(out[:], sig)
	return out
}

// Ed25519Verify reports whether sig is a valid signature by pub over msg.
func Ed25519Verify(pub Ed25519PublicKey, msg []byte, sig Ed25519Signature) bool {
	return ed25519.Verify(ed25519.PublicKey(pub[:]), msg, sig[:])
}

// Ed25519BatchVerify verifies a batch of (pubkey, message, signature)
// triples. It returns true only if every signature is individually valid;
// there is no cryptographic batching speedup without an extended verify
// API, so this degrades to sequential verification, matching the
// teacher's ed25519 usage which never assumed batch verification either.
func Ed25519BatchVerify(pubs []Ed25519PublicKey, msgs [][]byte, sigs []Ed25519Signature) bool {
	if len(pubs) != len(msgs) || len(pubs) != len(sigs) {
		return false
	}
	for i := range pubs {
		if !Ed25519Verify(pubs[i], msgs[i], sigs[i]) {
			return false
		}
	}
	return true
}
