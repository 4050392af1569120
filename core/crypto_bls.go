// SPDX-License-Identifier: Apache-2.0
package core

import (
	"fmt"

	bls "github.com/herumi/bls-eth-go-binary/bls"
)

//---------------------------------------------------------------------
// BLS12-381 – validator voting signatures and aggregation (spec.md §3.4)
//---------------------------------------------------------------------

func init() {
	if err := bls.Init(bls.BLS12_381); err != nil {
		panic(fmt.Errorf("core: bls init: %w", err))
	}
	if err := bls.SetETHmode(bls.EthModeDraft07); err != nil {
		panic(fmt.Errorf("core: bls eth mode: %w", err))
	}
}

// BlsKeyPair holds a validator's BLS secret key alongside its compressed
// public key.
type BlsKeyPair struct {
	Public BlsPublicKey
	secret bls.SecretKey
}

// GenerateBlsKeyPair generates a fresh BLS12-381 key pair.
func GenerateBlsKeyPair() (*BlsKeyPair, error) {
	var sk bls.SecretKey
	sk.SetByCSPRNG()
	kp := &BlsKeyPair{secret: sk}
	copy(kp.Public[:], sk.GetPublicKey().Serialize())
	return kp, nil
}

// Sign signs msg, returning a compressed 96-byte BLS signature.
func (kp *BlsKeyPair) Sign(msg []byte) BlsSignature {
	sig := kp.secret.SignByte(msg)
	var out BlsSignature
	copy(out[:], sig.Serialize())
	return out
}

// ProveKnowledge produces a BLS proof-of-possession over the public key's
// own serialization, countering rogue-key attacks during validator
// registration (spec.md §3.4).
func (kp *BlsKeyPair) ProveKnowledge() BlsSignature {
	return kp.Sign(kp.Public[:])
}

// BlsVerify reports whether sig is a valid BLS signature by pub over msg.
func BlsVerify(pub BlsPublicKey, msg []byte, sig BlsSignature) bool {
	var pk bls.PublicKey
	if err := pk.Deserialize(pub[:]); err != nil {
		return false
	}
	var s bls.Sign
	if err := s.Deserialize(sig[:]); err != nil {
		return false
	}
	return s.VerifyByte(&pk, msg)
}

// VerifyProofOfPossession verifies a BLS proof-of-possession produced by
// ProveKnowledge.
func VerifyProofOfPossession(pub BlsPublicKey, pop BlsSignature) bool {
	return BlsVerify(pub, pub[:], pop)
}

// AggregateBlsSignatures merges multiple compressed BLS signatures into
// one, for committing a quorum certificate without carrying every
// individual signature (spec.md §5, quorum certificates).
func AggregateBlsSignatures(sigs []BlsSignature) (BlsSignature, error) {
	if len(sigs) == 0 {
		return BlsSignature{}, NewError(ErrInvalidBLSSig, "no signatures to aggregate")
	}
	var agg bls.Sign
	for i, raw := range sigs {
		var s bls.Sign
		if err := s.Deserialize(raw[:]); err != nil {
			return BlsSignature{}, WrapErr(ErrInvalidBLSSig, err, fmt.Sprintf("deserialize signature %d", i))
		}
		if i == 0 {
			agg = s
		} else {
			agg.Add(&s)
		}
	}
	var out BlsSignature
	copy(out[:], agg.Serialize())
	return out, nil
}

// AggregateBlsPublicKeys merges multiple compressed BLS public keys,
// matching the signature aggregation above for verifying an aggregated
// signature against the combined key of all signers.
func AggregateBlsPublicKeys(pubs []BlsPublicKey) (BlsPublicKey, error) {
	if len(pubs) == 0 {
		return BlsPublicKey{}, NewError(ErrInvalidBLSSig, "no public keys to aggregate")
	}
	var agg bls.PublicKey
	for i, raw := range pubs {
		var pk bls.PublicKey
		if err := pk.Deserialize(raw[:]); err != nil {
			return BlsPublicKey{}, WrapErr(ErrInvalidBLSSig, err, fmt.Sprintf("deserialize public key %d", i))
		}
		if i == 0 {
			agg = pk
		} else {
			agg.Add(&pk)
		}
	}
	var out BlsPublicKey
	copy(out[:], agg.Serialize())
	return out, nil
}
