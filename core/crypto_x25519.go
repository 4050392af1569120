// SPDX-License-Identifier: Apache-2.0
package core

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

//---------------------------------------------------------------------
// X25519 – ephemeral key agreement for the handshake (spec.md §4.5)
//---------------------------------------------------------------------

// X25519KeyPair is an ephemeral Diffie-Hellman key pair used once per
// connection and discarded after channel key derivation.
type X25519KeyPair struct {
	Public  [32]byte
	private [32]byte
}

// GenerateX25519KeyPair generates a fresh ephemeral X25519 key pair.
func GenerateX25519KeyPair() (*X25519KeyPair, error) {
	var priv [32]byte
	if _, err := io.ReadFull(rand.Reader, priv[:]); err != nil {
		return nil, fmt.Errorf("core: generate x25519 key: %w", err)
	}
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("core: derive x25519 public key: %w", err)
	}
	kp := &X25519KeyPair{private: priv}
	copy(kp.Public[:], pub)
	return kp, nil
}

// SharedSecret performs the Diffie-Hellman exchange with a peer's public
// key.
func (kp *X25519KeyPair) SharedSecret(peerPublic [32]byte) ([]byte, error) {
	shared, err := curve25519.X25519(kp.private[:], peerPublic[:])
	if err != nil {
		return nil, fmt.Errorf("core: x25519 agreement: %w", err)
	}
	return shared, nil
}

// DeriveChannelKeys runs HKDF-SHA256 over the DH shared secret to derive
// two independent 32-byte AES-256-GCM keys, one per direction, per
// spec.md §4.5. info binds the derivation to a protocol domain string
// (e.g. "basalt-channel-v1") plus the two peer ids so that swapped
// initiator/responder roles never collide.
func DeriveChannelKeys(shared []byte, info []byte) (initiatorToResponder, responderToInitiator [32]byte, err error) {
	kdf := hkdf.New(sha256.New, shared, nil, info)
	var out [64]byte
	if _, err = io.ReadFull(kdf, out[:]); err != nil {
		return initiatorToResponder, responderToInitiator, fmt.Errorf("core: hkdf derive: %w", err)
	}
	copy(initiatorToResponder[:], out[:32])
	copy(responderToInitiator[:], out[32:])
	return initiatorToResponder, responderToInitiator, nil
}
