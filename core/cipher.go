// SPDX-License-Identifier: Apache-2.0
package core

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"
	"sync/atomic"
)

// DirectionalCipher wraps one AES-256-GCM key for one direction of an
// encrypted connection (spec.md §4.4). Nonces are deterministic: the
// first four bytes are always zero, the remaining eight carry a strictly
// monotonic counter, so a reused or out-of-order counter is detected and
// rejected on the receive side rather than silently accepted (replay
// protection).
type DirectionalCipher struct {
	aead    cipher.AEAD
	counter uint64 // last nonce counter used when sending (Seal pre-increments it)
	highest uint64 // highest counter value observed when receiving
	seenAny bool
}

// NewDirectionalCipher constructs an AES-256-GCM AEAD from a 32-byte key.
func NewDirectionalCipher(key [32]byte) (*DirectionalCipher, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("core: cipher init: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("core: gcm init: %w", err)
	}
	return &DirectionalCipher{aead: aead}, nil
}

func nonceFor(counter uint64) [12]byte {
	var nonce [12]byte
	binary.BigEndian.PutUint64(nonce[4:], counter)
	return nonce
}

// Seal encrypts plaintext using the next sequential counter, returning
// the full 12-byte nonce alongside the ciphertext (with the GCM tag
// appended). The counter is pre-incremented before use, so the first
// sealed frame carries counter 1, not 0 (spec.md §4.4, scenario S1).
func (c *DirectionalCipher) Seal(plaintext []byte) (nonce [12]byte, ciphertext []byte) {
	counter := atomic.AddUint64(&c.counter, 1)
	nonce = nonceFor(counter)
	ciphertext = c.aead.Seal(nil, nonce[:], plaintext, nil)
	return nonce, ciphertext
}

// Open decrypts a frame produced by the peer's Seal at the given
// counter. Counters must arrive in strictly increasing order; a replayed
// or reordered counter is rejected with ErrReplayDetected before the AEAD
// is even invoked, so a replay attempt cannot be used as a decryption
// oracle.
func (c *DirectionalCipher) Open(counter uint64, ciphertext []byte) ([]byte, error) {
	if c.seenAny && counter <= c.highest {
		return nil, NewError(ErrReplayDetected, fmt.Sprintf("nonce counter %d is not greater than highest seen %d", counter, c.highest))
	}
	nonce := nonceFor(counter)
	plaintext, err := c.aead.Open(nil, nonce[:], ciphertext, nil)
	if err != nil {
		return nil, WrapErr(ErrHandshakeFailed, err, "aead open failed")
	}
	c.highest = counter
	c.seenAny = true
	return plaintext, nil
}
